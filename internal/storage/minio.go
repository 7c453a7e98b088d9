// Пакет storage — зеркало вложений каталога в объектном хранилище MinIO.
// Подписанные URL вложений Airtable истекают; зеркало отдаёт файл
// без обращения к Airtable, если копия уже загружена.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/worldsun-app/finportal/internal/storage")

// ErrObjectNotFound — объекта нет в зеркале.
var ErrObjectNotFound = errors.New("объект не найден в зеркале")

// Object — открытый объект зеркала. Поддерживает Seek для Range-запросов.
type Object struct {
	io.ReadSeekCloser
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// MinioMirror — зеркало вложений в бакете MinIO.
type MinioMirror struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinioMirror подключается к MinIO и создаёт бакет при отсутствии.
func NewMinioMirror(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool, logger *slog.Logger) (*MinioMirror, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("создание клиента MinIO: %w", err)
	}

	m := &MinioMirror{
		client: client,
		bucket: bucket,
		logger: logger.With(slog.String("component", "minio_mirror")),
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("проверка бакета %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("создание бакета %s: %w", bucket, err)
		}
		m.logger.Info("Бакет зеркала создан", slog.String("bucket", bucket))
	}
	return m, nil
}

// Open открывает объект. ErrObjectNotFound, если копии нет.
func (m *MinioMirror) Open(ctx context.Context, key string) (*Object, error) {
	ctx, span := tracer.Start(ctx, "minio.open",
		trace.WithAttributes(attribute.String("object_key", key)),
	)
	defer span.End()

	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("получение объекта %s: %w", key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			span.SetAttributes(attribute.Bool("mirror_hit", false))
			return nil, ErrObjectNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("stat объекта %s: %w", key, err)
	}

	span.SetAttributes(
		attribute.Bool("mirror_hit", true),
		attribute.Int64("size_bytes", info.Size),
	)
	return &Object{
		ReadSeekCloser: obj,
		Size:           info.Size,
		ContentType:    info.ContentType,
		ETag:           info.ETag,
		LastModified:   info.LastModified,
	}, nil
}

// Put загружает объект. size = -1, если размер неизвестен.
func (m *MinioMirror) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	ctx, span := tracer.Start(ctx, "minio.put",
		trace.WithAttributes(
			attribute.String("object_key", key),
			attribute.Int64("size_bytes", size),
		),
	)
	defer span.End()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("загрузка объекта %s: %w", key, err)
	}
	m.logger.Debug("Объект загружен в зеркало",
		slog.String("key", key),
		slog.Int64("size", info.Size),
	)
	return nil
}

// CheckReady проверяет доступность бакета.
func (m *MinioMirror) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ok, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return "fail", err.Error()
	}
	if !ok {
		return "fail", fmt.Sprintf("бакет %s не найден", m.bucket)
	}
	return "ok", "MinIO доступен"
}
