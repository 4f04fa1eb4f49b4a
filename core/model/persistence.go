package model

import (
	"encoding/gob"
	"io"
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/equipml/pkg/errors"
)

// Register はインターフェース型フィールドに格納される具象モデルをgobに登録する
//
// 名前は型のリネームに影響されないよう "equipml." 接頭辞付きの固定名を使う。
// 各パッケージの init() から呼び出すこと。
//
// 使用例:
//
//	func init() {
//	    model.Register("RandomForestRegressor", &RandomForestRegressor{})
//	}
func Register(name string, value interface{}) {
	gob.RegisterName("equipml."+name, value)
}

// SaveModelToWriter はモデルをio.Writerにgob形式で保存する
func SaveModelToWriter(m interface{}, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(m); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// LoadModelFromReader はio.Readerからモデルを読み込む
//
// パラメータ:
//   - m: 読み込み先のモデル（ポインタ）
//   - r: 読み込み元のReader
func LoadModelFromReader(m interface{}, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(m); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}

// SaveModelFile はモデルをファイルに保存する
//
// 親ディレクトリを作成し、同じディレクトリの一時ファイルに書き込んでから
// rename で置き換えるため、読み込み側が書きかけのファイルを見ることはない。
func SaveModelFile(m interface{}, filename string) (err error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filename)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := SaveModelToWriter(m, tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "failed to sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp file")
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return errors.Wrapf(err, "failed to replace %s", filename)
	}
	return nil
}

// LoadModelFile はファイルからモデルを読み込む
// ファイルが存在しない場合は errors.ErrNotFound でマークされたエラーを返す
func LoadModelFile(m interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Mark(errors.Wrapf(err, "model file not found: %s", filename), errors.ErrNotFound)
		}
		return errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	return LoadModelFromReader(m, file)
}
