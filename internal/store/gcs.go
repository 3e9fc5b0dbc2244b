package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSBlobStore uploads delivery evidence to a Cloud Storage bucket.
type GCSBlobStore struct {
	client *storage.Client
	bucket string
}

// NewGCSBlobStore uses the service account key at credentialsFile, or
// application default credentials when it is empty.
func NewGCSBlobStore(ctx context.Context, bucket, credentialsFile string) (*GCSBlobStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSBlobStore{client: client, bucket: bucket}, nil
}

func (g *GCSBlobStore) Upload(ctx context.Context, name, contentType string, data []byte) (string, error) {
	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "private, max-age=0"

	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", name, err)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, name), nil
}

func (g *GCSBlobStore) Close() error {
	return g.client.Close()
}
