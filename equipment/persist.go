package equipment

import (
	"io"

	"github.com/YuminosukeSato/equipml/core/model"
	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/YuminosukeSato/equipml/pkg/log"
)

// Encode はバンドルを gob 形式で w に書き込む
func (b *Bundle) Encode(w io.Writer) error {
	if !b.Trained {
		return errors.NewNotTrainedError("Encode")
	}
	return model.SaveModelToWriter(b, w)
}

// DecodeBundle は gob 形式のバンドルを読み込む
// 古い形式で欠けている任意フィールドは既定値になる
func DecodeBundle(r io.Reader) (*Bundle, error) {
	var b Bundle
	if err := model.LoadModelFromReader(&b, r); err != nil {
		return nil, err
	}
	b.applyDefaults()
	return &b, nil
}

// Save はバンドルを path に保存する
// 親ディレクトリを作成し、一時ファイルへの書き込み後に rename で置き換える
func Save(b *Bundle, path string) error {
	if !b.Trained {
		return errors.NewNotTrainedError("Save")
	}
	if err := model.SaveModelFile(b, path); err != nil {
		return errors.NewPersistenceError("save", path, err)
	}
	log.GetLoggerWithName("equipment").Debug("bundle saved",
		log.OperationKey, log.OperationSave,
		log.BundleKey, path,
	)
	return nil
}

// Load は path からバンドルを読み込む
// ファイルがない場合は errors.IsNotFound が true になる PersistenceError を返す
func Load(path string) (*Bundle, error) {
	var b Bundle
	if err := model.LoadModelFile(&b, path); err != nil {
		return nil, errors.NewPersistenceError("load", path, err)
	}
	b.applyDefaults()
	return &b, nil
}
