package store

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/YuminosukeSato/equipml/equipment"
	"github.com/YuminosukeSato/equipml/pkg/errors"
)

// FileStore はディレクトリ内の <key>.gob にバンドルを保存する
type FileStore struct {
	dir string
}

// NewFileStore は dir を保存先とする FileStore を作る
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path はキーに対応するファイルパスを返す
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, key+".gob")
}

// Save は一時ファイルに書き込んでから rename で置き換える
func (s *FileStore) Save(ctx context.Context, key string, b *equipment.Bundle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return equipment.Save(b, s.Path(key))
}

func (s *FileStore) Load(ctx context.Context, key string) (*equipment.Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return equipment.Load(s.Path(key))
}

// Delete はバンドルを削除する。存在しなくてもエラーにしない
func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.Path(key)); err != nil && !os.IsNotExist(err) {
		return errors.NewPersistenceError("delete", key, err)
	}
	return nil
}

func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.Path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.NewPersistenceError("stat", key, err)
	}
	return true, nil
}

// Version はファイルの更新時刻とサイズ
func (s *FileStore) Version(ctx context.Context, key string) (string, error) {
	info, err := os.Stat(s.Path(key))
	if os.IsNotExist(err) {
		return "", notFound("stat", key)
	}
	if err != nil {
		return "", errors.NewPersistenceError("stat", key, err)
	}
	return strconv.FormatInt(info.ModTime().UnixNano(), 10) + "-" + strconv.FormatInt(info.Size(), 10), nil
}
