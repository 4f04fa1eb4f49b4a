package store

import (
	"bytes"
	"context"
	"path"

	"github.com/YuminosukeSato/equipml/equipment"
	"github.com/YuminosukeSato/equipml/pkg/errors"
	"github.com/YuminosukeSato/equipml/pkg/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config は S3Store の接続設定
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Secure    bool
}

// S3Store は S3 互換のオブジェクトストレージにバンドルを保存する
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Store はクライアントを作る。接続は最初の操作まで行わない
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.NewValidationError("bucket", "must not be empty", cfg.Bucket)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create S3 client")
	}
	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// EnsureBucket はバケットがなければ作成する
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return errors.Wrapf(err, "check bucket %s", s.bucket)
	}
	if ok {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return errors.Wrapf(err, "create bucket %s", s.bucket)
	}
	log.GetLoggerWithName("store").Info("bucket created", "bucket", s.bucket)
	return nil
}

// ObjectName はキーに対応するオブジェクト名
func (s *S3Store) ObjectName(key string) string {
	return path.Join(s.prefix, key+".gob")
}

func (s *S3Store) Save(ctx context.Context, key string, b *equipment.Bundle) error {
	var buf bytes.Buffer
	if err := b.Encode(&buf); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.ObjectName(key), &buf, int64(buf.Len()),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return errors.NewPersistenceError("save", key, err)
	}
	return nil
}

func (s *S3Store) Load(ctx context.Context, key string) (*equipment.Bundle, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.ObjectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError("load", key, err)
	}
	defer obj.Close()

	b, err := equipment.DecodeBundle(obj)
	if err != nil {
		// GetObject は遅延読み込みなので NoSuchKey はここで返る
		return nil, s.mapError("load", key, err)
	}
	return b, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.ObjectName(key), minio.RemoveObjectOptions{}); err != nil {
		return errors.NewPersistenceError("delete", key, err)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.ObjectName(key), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, errors.NewPersistenceError("stat", key, err)
}

// Version はオブジェクトのETag
func (s *S3Store) Version(ctx context.Context, key string) (string, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.ObjectName(key), minio.StatObjectOptions{})
	if err != nil {
		return "", s.mapError("stat", key, err)
	}
	return info.ETag, nil
}

func (s *S3Store) mapError(op, key string, err error) error {
	if isNoSuchKey(err) {
		return notFound(op, key)
	}
	return errors.NewPersistenceError(op, key, err)
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey"
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
