// internal/services/storage_service.go
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/export-registry/internal/apperror"
	"github.com/javajoker/export-registry/internal/config"
	"github.com/javajoker/export-registry/internal/metrics"
)

// FileStore holds document bytes behind an opaque locator.
type FileStore interface {
	Put(ctx context.Context, key string, content []byte, mimeType string) (string, error)
	Get(ctx context.Context, locator string) ([]byte, error)
	Delete(ctx context.Context, locator string) error
}

// StorageService stores files in S3, or under a local directory when no AWS
// credentials are configured. Every failure is a retryable StorageFailure,
// except a missing object which is NotFound.
type StorageService struct {
	s3Client  s3iface.S3API
	bucket    string
	localPath string
	metrics   *metrics.Metrics
}

var _ FileStore = (*StorageService)(nil)

func NewStorageService(cfg *config.Config, m *metrics.Metrics) (*StorageService, error) {
	if cfg.AWS.AccessKeyID == "" {
		// Local disk for development
		return NewLocalStorageService(cfg.Storage.LocalPath, m), nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.AWS.Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AWS.AccessKeyID,
			cfg.AWS.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewS3StorageService(s3.New(sess), cfg.AWS.S3Bucket, m), nil
}

func NewS3StorageService(client s3iface.S3API, bucket string, m *metrics.Metrics) *StorageService {
	return &StorageService{s3Client: client, bucket: bucket, metrics: m}
}

func NewLocalStorageService(root string, m *metrics.Metrics) *StorageService {
	return &StorageService{localPath: root, metrics: m}
}

// DocumentKey is documents/<caseID>/product_<id>|global/<uuid><ext>.
func DocumentKey(caseID uuid.UUID, productID *uuid.UUID, fileName string) string {
	scope := "global"
	if productID != nil {
		scope = "product_" + productID.String()
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	return path.Join("documents", caseID.String(), scope, uuid.NewString()+ext)
}

func (s *StorageService) Put(ctx context.Context, key string, content []byte, mimeType string) (string, error) {
	defer s.observe("put", time.Now())

	if s.s3Client == nil {
		return s.putLocal(key, content)
	}

	_, err := s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(content),
		ContentType:   aws.String(mimeType),
		ContentLength: aws.Int64(int64(len(content))),
	})
	if err != nil {
		return "", apperror.StorageFailure(fmt.Errorf("failed to upload to S3: %w", err), "put")
	}
	return key, nil
}

func (s *StorageService) Get(ctx context.Context, locator string) ([]byte, error) {
	defer s.observe("get", time.Now())

	if s.s3Client == nil {
		return s.getLocal(locator)
	}

	out, err := s.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(locator),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, apperror.NotFound("file", locator)
		}
		return nil, apperror.StorageFailure(fmt.Errorf("failed to read from S3: %w", err), "get")
	}
	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperror.StorageFailure(fmt.Errorf("failed to read S3 body: %w", err), "get")
	}
	return content, nil
}

func (s *StorageService) Delete(ctx context.Context, locator string) error {
	defer s.observe("delete", time.Now())

	if s.s3Client == nil {
		return s.deleteLocal(locator)
	}

	_, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(locator),
	})
	if err != nil {
		return apperror.StorageFailure(fmt.Errorf("failed to delete file from S3: %w", err), "delete")
	}
	return nil
}

// localFile resolves a locator under the storage root and refuses escapes.
func (s *StorageService) localFile(locator string) (string, error) {
	clean := path.Clean("/" + locator)
	if clean == "/" || strings.Contains(locator, "..") {
		return "", apperror.ValidationFailed("invalid file locator").With("locator", locator)
	}
	return filepath.Join(s.localPath, filepath.FromSlash(clean)), nil
}

func (s *StorageService) putLocal(key string, content []byte) (string, error) {
	target, err := s.localFile(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", apperror.StorageFailure(err, "put")
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", apperror.StorageFailure(err, "put")
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", apperror.StorageFailure(err, "put")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", apperror.StorageFailure(err, "put")
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", apperror.StorageFailure(err, "put")
	}
	return key, nil
}

func (s *StorageService) getLocal(locator string) ([]byte, error) {
	target, err := s.localFile(locator)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperror.NotFound("file", locator)
	}
	if err != nil {
		return nil, apperror.StorageFailure(err, "get")
	}
	return content, nil
}

func (s *StorageService) deleteLocal(locator string) error {
	target, err := s.localFile(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperror.StorageFailure(err, "delete")
	}
	return nil
}

func (s *StorageService) observe(operation string, started time.Time) {
	elapsed := time.Since(started)
	s.metrics.ObserveStorage(operation, elapsed.Seconds())
	logrus.WithFields(logrus.Fields{
		"operation": operation,
		"duration":  elapsed,
	}).Debug("File storage call")
}
