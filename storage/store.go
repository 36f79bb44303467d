package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

const (
	processedPrefix = "processed_appraisals/"
	summariesPrefix = "processing_summaries/"

	extractionResultsName = "extraction_results.json"
)

// Store persists source documents, extraction results and run summaries
// to object storage. Writes are overwrite-on-conflict, so re-uploads are
// idempotent.
type Store struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool, logger *zap.Logger) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	logger.Info("connected to object store",
		zap.String("endpoint", endpoint),
		zap.String("bucket", bucket))
	return &Store{client: cli, bucket: bucket, logger: logger}, nil
}

// ProcessedLoanIDs rebuilds the idempotency index: a loan is processed
// iff at least one of its documents was durably persisted. On storage
// unavailability the set is empty and the run reprocesses everything
// rather than failing.
func (s *Store) ProcessedLoanIDs(ctx context.Context) map[string]struct{} {
	// The lister goroutine blocks on its channel until this context ends,
	// so an early return must cancel it rather than ride the run context.
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	listing := s.client.ListObjects(listCtx, s.bucket, minio.ListObjectsOptions{
		Prefix:    processedPrefix,
		Recursive: true,
	})
	ids, err := collectLoanIDs(listing)
	if err != nil {
		s.logger.Warn("listing processed loans failed", zap.Error(err))
		return ids
	}
	s.logger.Info("loaded processed loan index", zap.Int("loans", len(ids)))
	return ids
}

// collectLoanIDs consumes a listing until it ends or reports an error.
// On error it stops reading immediately and returns an empty set; the
// caller's cancel unblocks the lister.
func collectLoanIDs(listing <-chan minio.ObjectInfo) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	for obj := range listing {
		if obj.Err != nil {
			return make(map[string]struct{}), obj.Err
		}
		if id, ok := loanIDFromKey(obj.Key); ok {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

// UploadDocument persists one source document under its loan.
func (s *Store) UploadDocument(ctx context.Context, localPath, loanID, filename string) error {
	key := processedPrefix + loanID + "/" + filename
	_, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentTypeFor(localPath),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	s.logger.Info("uploaded document", zap.String("key", key))
	return nil
}

// UploadExtractionResults persists the structured record for a loan.
func (s *Store) UploadExtractionResults(ctx context.Context, loanID string, fields map[string]any) error {
	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal extraction results: %w", err)
	}

	key := processedPrefix + loanID + "/" + extractionResultsName
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	s.logger.Info("uploaded extraction results", zap.String("loan_id", loanID))
	return nil
}

// UploadSummary persists a run summary file.
func (s *Store) UploadSummary(ctx context.Context, filename, localPath string) error {
	key := summariesPrefix + filename
	_, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	s.logger.Info("uploaded run summary", zap.String("key", key))
	return nil
}

// loanIDFromKey takes the first path segment after the processed prefix.
// Keys without a deeper segment carry no loan identifier.
func loanIDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, processedPrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(key, processedPrefix)
	idx := strings.Index(rest, "/")
	if idx <= 0 {
		return "", false
	}
	return rest[:idx], true
}

func contentTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".pdf":
		return "application/pdf"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
