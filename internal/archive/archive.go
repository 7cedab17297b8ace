// Package archive pushes design snapshots to S3-compatible object storage.
// It is best-effort: the save path never fails because the archive is down.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Service struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and makes sure the bucket exists.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	svc := &Service{client: client, bucket: bucket}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

func (s *Service) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *Service) objectKey(designID string) string {
	return "designs/" + designID + ".dat"
}

// Put uploads the latest snapshot bytes for a design, replacing any
// previous object.
func (s *Service) Put(ctx context.Context, designID string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.objectKey(designID),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("upload snapshot %s: %w", designID, err)
	}
	return nil
}

// PutAsync uploads in the background and logs failures.
func (s *Service) PutAsync(designID string, data []byte) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Put(ctx, designID, data); err != nil {
			log.Printf("archive: %v", err)
		}
	}()
}

// Get fetches the archived snapshot bytes for a design.
func (s *Service) Get(ctx context.Context, designID string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, s.objectKey(designID), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot %s: %w", designID, err)
	}
	defer object.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(object); err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", designID, err)
	}
	return buf.Bytes(), nil
}
