package s3

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/pkg/backend"
)

// maxDeleteBatch is the DeleteObjects per-request limit.
const maxDeleteBatch = 1000

// WriteBytes uploads data as the whole object.
//
// opts.ContentType is recorded on the object. Mode and Sync have no meaning
// on object storage: a successful PutObject is already durable.
func (s *S3Backend) WriteBytes(ctx context.Context, p string, data []byte, opts backend.WriteOptions) error {
	key, err := s.begin(ctx, p)
	if err != nil {
		return err
	}
	return s.put(ctx, key, data, opts.ContentType)
}

func (s *S3Backend) put(ctx context.Context, key string, data []byte, contentType string) (err error) {
	defer s.observe("put", time.Now(), &err)

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err = s.client.PutObject(ctx, input); err != nil {
		return mapErr("put", key, err)
	}
	s.metrics.RecordBytes("put", int64(len(data)))
	return nil
}

// AppendBytes appends by downloading the object, extending it and uploading
// the result. A missing object is created.
func (s *S3Backend) AppendBytes(ctx context.Context, p string, data []byte, opts backend.WriteOptions) error {
	existing, err := s.ReadBytes(ctx, p)
	if err != nil && !backend.IsNotFound(err) {
		return err
	}

	combined := make([]byte, 0, len(existing)+len(data))
	combined = append(combined, existing...)
	combined = append(combined, data...)

	return s.WriteBytes(ctx, p, combined, opts)
}

// CopyFile copies src to dst server-side.
func (s *S3Backend) CopyFile(ctx context.Context, src, dst string) (err error) {
	srcKey, err := s.begin(ctx, src)
	if err != nil {
		return err
	}
	dstKey, err := s.objectKey(dst)
	if err != nil {
		return err
	}
	defer s.observe("copy", time.Now(), &err)

	_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(s.copySource(srcKey)),
	})
	if err != nil {
		return mapErr("copy", srcKey, err)
	}
	return nil
}

// Rename copies src to dst and deletes src.
func (s *S3Backend) Rename(ctx context.Context, src, dst string) error {
	if err := s.CopyFile(ctx, src, dst); err != nil {
		return err
	}

	srcKey, err := s.objectKey(src)
	if err != nil {
		return err
	}
	return s.deleteKey(ctx, srcKey)
}

// RemoveFile deletes a single object. DeleteObject succeeds for missing keys,
// so presence is checked first to report ErrNotFound.
func (s *S3Backend) RemoveFile(ctx context.Context, p string) error {
	key, err := s.begin(ctx, p)
	if err != nil {
		return err
	}

	if err := s.head(ctx, key); err != nil {
		return err
	}

	return s.deleteKey(ctx, key)
}

func (s *S3Backend) deleteKey(ctx context.Context, key string) (err error) {
	defer s.observe("delete", time.Now(), &err)

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapErr("delete", key, err)
	}
	return nil
}

// ============================================================================
// Directories
// ============================================================================

// MakeDir writes the directory marker object.
//
// With Recursive, markers are written for every missing ancestor. Without it
// the parent must exist (top-level directories always may be created). An
// object stored under the key itself is a file: that is ErrNotDir.
func (s *S3Backend) MakeDir(ctx context.Context, p string, opts backend.DirOptions) error {
	key, err := s.begin(ctx, p)
	if err != nil {
		return err
	}

	exists, err := s.dirExists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("mkdir %s: %w", key, backend.ErrExists)
	}
	switch err := s.head(ctx, key); {
	case err == nil:
		return fmt.Errorf("mkdir %s: %w", key, backend.ErrNotDir)
	case !backend.IsNotFound(err):
		return err
	}

	rel := strings.TrimPrefix(key, s.keyPrefix)
	parent := path.Dir(rel)

	if !opts.Recursive {
		if parent != "." {
			ok, err := s.dirExists(ctx, s.keyPrefix+parent)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("mkdir %s: parent missing: %w", key, backend.ErrNotFound)
			}
		}
		return s.put(ctx, dirPrefix(key), nil, "")
	}

	// Write markers from the top so a partial failure leaves a valid prefix.
	parts := strings.Split(rel, "/")
	for i := range parts {
		marker := dirPrefix(s.keyPrefix + strings.Join(parts[:i+1], "/"))
		if err := s.put(ctx, marker, nil, ""); err != nil {
			return err
		}
	}
	return nil
}

// RemoveDir removes a directory marker, and with Recursive every object below.
func (s *S3Backend) RemoveDir(ctx context.Context, p string, opts backend.DirOptions) error {
	key, err := s.begin(ctx, p)
	if err != nil {
		return err
	}

	keys, err := s.listKeys(ctx, dirPrefix(key))
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		if opts.Force {
			return nil
		}
		return fmt.Errorf("rmdir %s: %w", key, backend.ErrNotFound)
	}

	if !opts.Recursive {
		if len(keys) > 1 || keys[0] != dirPrefix(key) {
			return fmt.Errorf("rmdir %s: %w", key, backend.ErrNotEmpty)
		}
		return s.deleteKey(ctx, dirPrefix(key))
	}

	return s.deleteBatch(ctx, keys)
}

// deleteBatch removes keys with DeleteObjects in batches of 1000.
func (s *S3Backend) deleteBatch(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += maxDeleteBatch {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+maxDeleteBatch, len(keys))
		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
		}

		began := time.Now()
		result, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		s.metrics.ObserveOperation("delete_batch", time.Since(began), err)
		if err != nil {
			return mapErr("delete batch", keys[start], err)
		}

		if len(result.Errors) > 0 {
			first := result.Errors[0]
			logger.Warn("S3 batch delete: %d of %d objects failed", len(result.Errors), len(objects))
			return fmt.Errorf("delete %s: %s", aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}
