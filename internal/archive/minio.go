// Package archive copies generated markdown files into object storage so
// downstream tooling can fetch documentation bundles without the API.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"docuflow/api/internal/store"
)

type Store struct {
	client *minio.Client
	bucket string
}

// New connects to MinIO and ensures the bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect minio: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Store{client: client, bucket: bucket}, nil
}

// SaveDoc uploads every file of a generated doc under
// {projectID}/{docID}/{path}. Objects are never updated afterwards;
// generated docs are immutable.
func (s *Store) SaveDoc(ctx context.Context, doc store.GeneratedDoc) error {
	for _, file := range doc.Files {
		key := path.Join(doc.ProjectID, doc.ID, strings.TrimPrefix(file.Path, "/"))
		reader := bytes.NewReader([]byte(file.Content))
		_, err := s.client.PutObject(ctx, s.bucket, key, reader, int64(reader.Len()), minio.PutObjectOptions{
			ContentType: contentTypeFor(file.Path),
		})
		if err != nil {
			return fmt.Errorf("archive %s: %w", key, err)
		}
	}
	return nil
}

func contentTypeFor(filePath string) string {
	switch path.Ext(filePath) {
	case ".md":
		return "text/markdown"
	case ".json":
		return "application/json"
	case ".html":
		return "text/html"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}
