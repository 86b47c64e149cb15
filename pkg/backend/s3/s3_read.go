package s3

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/shadowfs/pkg/backend"
)

// ReadBytes downloads the whole object.
func (s *S3Backend) ReadBytes(ctx context.Context, p string) (data []byte, err error) {
	key, err := s.begin(ctx, p)
	if err != nil {
		return nil, err
	}
	defer s.observe("get", time.Now(), &err)

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapErr("get", key, err)
	}
	defer func() { _ = result.Body.Close() }()

	data, err = io.ReadAll(result.Body)
	if err != nil {
		return nil, mapErr("read body", key, err)
	}
	s.metrics.RecordBytes("get", int64(len(data)))
	return data, nil
}

// Exists reports whether an object or a directory lives at p.
//
// Object stores carry no permission bits, so access is not checked.
func (s *S3Backend) Exists(ctx context.Context, p string, _ backend.Access) bool {
	key, err := s.begin(ctx, p)
	if err != nil {
		return false
	}

	if err := s.head(ctx, key); err == nil {
		return true
	}

	ok, _ := s.dirExists(ctx, key)
	return ok
}

// head checks that an object exists at key.
func (s *S3Backend) head(ctx context.Context, key string) (err error) {
	defer s.observe("head", time.Now(), &err)

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return mapErr("head", key, err)
}

// dirExists reports whether a marker or any object lives below key.
func (s *S3Backend) dirExists(ctx context.Context, key string) (_ bool, err error) {
	defer s.observe("list", time.Now(), &err)

	result, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(dirPrefix(key)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, mapErr("list", key, err)
	}
	return len(result.Contents) > 0, nil
}

// ListDir lists the direct children of a directory using the "/" delimiter.
//
// Subdirectories come from CommonPrefixes, files from Contents. The directory
// marker itself is skipped. A directory with neither marker nor children is
// reported as ErrNotFound.
func (s *S3Backend) ListDir(ctx context.Context, p string) ([]backend.DirEntry, error) {
	key, err := s.begin(ctx, p)
	if err != nil {
		return nil, err
	}

	prefix := dirPrefix(key)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var entries []backend.DirEntry
	found := false

	for paginator.HasMorePages() {
		page, err := s.nextPage(ctx, paginator)
		if err != nil {
			return nil, mapErr("list", key, err)
		}

		for _, cp := range page.CommonPrefixes {
			found = true
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name != "" {
				entries = append(entries, backend.DirEntry{Name: name, IsDir: true})
			}
		}

		for _, obj := range page.Contents {
			found = true
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				continue
			}
			entries = append(entries, backend.DirEntry{Name: name})
		}
	}

	if !found {
		return nil, fmt.Errorf("list %s: %w", key, backend.ErrNotFound)
	}
	return entries, nil
}

// listKeys returns every object key below prefix.
func (s *S3Backend) listKeys(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := s.nextPage(ctx, paginator)
		if err != nil {
			return nil, mapErr("list", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (s *S3Backend) nextPage(ctx context.Context, paginator *s3.ListObjectsV2Paginator) (page *s3.ListObjectsV2Output, err error) {
	defer s.observe("list", time.Now(), &err)
	return paginator.NextPage(ctx)
}
