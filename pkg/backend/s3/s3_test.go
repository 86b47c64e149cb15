package s3

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/shadowfs/pkg/backend"
)

func TestObjectKey(t *testing.T) {
	b := &S3Backend{keyPrefix: "pre/"}

	key, err := b.objectKey("/records/../records/a.json")
	require.NoError(t, err)
	assert.Equal(t, "pre/records/a.json", key)

	_, err = b.objectKey("../escape")
	assert.ErrorIs(t, err, backend.ErrInvalidPath)

	_, err = b.objectKey("")
	assert.ErrorIs(t, err, backend.ErrInvalidPath)
}

func TestCopySource(t *testing.T) {
	b := &S3Backend{bucket: "bkt"}

	assert.Equal(t, "bkt/dir/a%20b.json", b.copySource("dir/a b.json"))
}

func TestMapErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want backend.Kind
	}{
		{"no such key", &types.NoSuchKey{}, backend.KindNotFound},
		{"head not found", fmt.Errorf("op: %w", &types.NotFound{}), backend.KindNotFound},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, backend.KindResourceExhausted},
		{"too many requests", &smithy.GenericAPIError{Code: "TooManyRequests"}, backend.KindResourceExhausted},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, backend.KindOther},
		{"plain", errors.New("boom"), backend.KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, backend.Classify(mapErr("get", "k", tt.err)))
		})
	}

	assert.ErrorIs(t, mapErr("get", "k", context.Canceled), context.Canceled)
	assert.Nil(t, mapErr("get", "k", nil))
}

type recordingMetrics struct {
	ops  []string
	errs int
}

func (r *recordingMetrics) ObserveOperation(op string, _ time.Duration, err error) {
	r.ops = append(r.ops, op)
	if err != nil {
		r.errs++
	}
}

func (r *recordingMetrics) RecordBytes(string, int64) {}

func TestObserve(t *testing.T) {
	rec := &recordingMetrics{}
	b := &S3Backend{metrics: rec}

	call := func(fail bool) (err error) {
		defer b.observe("put", time.Now(), &err)
		if fail {
			return errors.New("boom")
		}
		return nil
	}

	require.NoError(t, call(false))
	require.Error(t, call(true))

	assert.Equal(t, []string{"put", "put"}, rec.ops)
	assert.Equal(t, 1, rec.errs)
}
