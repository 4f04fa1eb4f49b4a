// Package store はユーザーごとのモデルバンドルを保存・読み込みするバックエンドを提供する
//
// バックエンドはファイル（FileStore）、S3互換オブジェクトストレージ（S3Store）、
// Redis（RedisStore）の3種類で、いずれも BundleStore を実装する。
package store

import (
	"context"
	"strconv"

	"github.com/YuminosukeSato/equipml/equipment"
	"github.com/YuminosukeSato/equipml/pkg/errors"
)

// BundleStore はキーでバンドルを保存・読み込みする
// 存在しないキーの Load は errors.IsNotFound が true になるエラーを返す
type BundleStore interface {
	Save(ctx context.Context, key string, b *equipment.Bundle) error
	Load(ctx context.Context, key string) (*equipment.Bundle, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Versioner はキーの現在のバージョン（更新時刻やETag）を返す
// 空文字はバージョンが分からないことを表す
type Versioner interface {
	Version(ctx context.Context, key string) (string, error)
}

// ErrNotFound はバンドルが存在しないことを示す
var ErrNotFound = errors.ErrNotFound

// UserKey はユーザーIDからバンドルのキーを作る
func UserKey(userID int64) string {
	return "model_user_" + strconv.FormatInt(userID, 10)
}

func notFound(op, key string) error {
	return errors.NewPersistenceError(op, key, errors.Mark(errors.Newf("bundle %q not found", key), ErrNotFound))
}
