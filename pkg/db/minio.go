package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"infra-monitor/pkg/config"
	"infra-monitor/pkg/models"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const CompressionLevel = gzip.BestSpeed

type MinioClient struct {
	*minio.Client
	bucket string
}

func NewMinioClient(cfg *config.Config) (*MinioClient, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to reach MinIO: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.MinioBucket, err)
		}
	}

	return &MinioClient{Client: client, bucket: cfg.MinioBucket}, nil
}

func (m *MinioClient) HealthCheck(ctx context.Context) error {
	_, err := m.BucketExists(ctx, m.bucket)
	return err
}

// LogArchive keeps expiring log rows in object storage before the
// retention job deletes them from the database.
type LogArchive struct {
	client *minio.Client
	bucket string
}

func NewLogArchive(m *MinioClient) *LogArchive {
	return &LogArchive{client: m.Client, bucket: m.bucket}
}

// ArchiveObjectName is system-logs/{systemId}/{yyyy}/{mm}/{dd}/{batch}.json.gz.
// The batch suffix keeps a day that is archived across several runs from
// overwriting earlier objects.
func ArchiveObjectName(systemID int64, day time.Time, batch time.Time) string {
	return fmt.Sprintf("system-logs/%d/%s/%d.json.gz", systemID, day.UTC().Format("2006/01/02"), batch.UnixNano())
}

// StoreLogs uploads one system's logs for one day as gzip-compressed JSON lines.
func (a *LogArchive) StoreLogs(ctx context.Context, systemID int64, day time.Time, logs []models.Log) (string, error) {
	if len(logs) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	if err := EncodeLogs(&buf, logs); err != nil {
		return "", err
	}

	objectName := ArchiveObjectName(systemID, day, time.Now())
	_, err := a.client.PutObject(ctx, a.bucket, objectName, &buf, int64(buf.Len()),
		minio.PutObjectOptions{
			ContentType:     "application/x-ndjson",
			ContentEncoding: "gzip",
		})
	if err != nil {
		return "", fmt.Errorf("failed to upload logs to MinIO: %w", err)
	}

	return objectName, nil
}

// EncodeLogs writes logs as gzip-compressed JSON lines.
func EncodeLogs(w io.Writer, logs []models.Log) error {
	gzipWriter, err := gzip.NewWriterLevel(w, CompressionLevel)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}

	enc := json.NewEncoder(gzipWriter)
	for _, entry := range logs {
		if err := enc.Encode(entry); err != nil {
			gzipWriter.Close()
			return fmt.Errorf("failed to write log entry %d: %w", entry.ID, err)
		}
	}

	if err := gzipWriter.Close(); err != nil {
		return fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return nil
}
