package s3

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/shadowfs/pkg/backend"
	backendtesting "github.com/marmos91/shadowfs/pkg/backend/testing"
)

// testConfig reads the S3 test target from the environment.
//
// Set SHADOWFS_S3_TEST_BUCKET (and optionally SHADOWFS_S3_TEST_ENDPOINT,
// SHADOWFS_S3_TEST_REGION) to run against Localstack, MinIO or AWS.
func testConfig(t *testing.T) Config {
	t.Helper()

	bucket := os.Getenv("SHADOWFS_S3_TEST_BUCKET")
	if bucket == "" {
		t.Skip("SHADOWFS_S3_TEST_BUCKET not set, skipping S3 integration tests")
	}

	region := os.Getenv("SHADOWFS_S3_TEST_REGION")
	if region == "" {
		region = "us-east-1"
	}

	return Config{
		Bucket:          bucket,
		Region:          region,
		Endpoint:        os.Getenv("SHADOWFS_S3_TEST_ENDPOINT"),
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		MaxRetries:      3,
	}
}

// newTestBackend isolates each test under its own key prefix.
func newTestBackend(t *testing.T) *S3Backend {
	t.Helper()

	cfg := testConfig(t)
	cfg.KeyPrefix = "shadowfs-test/" + uuid.NewString() + "/"

	b, err := New(context.Background(), cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		keys, err := b.listKeys(context.Background(), cfg.KeyPrefix)
		if err == nil && len(keys) > 0 {
			_ = b.deleteBatch(context.Background(), keys)
		}
	})
	return b
}

func TestS3Backend(t *testing.T) {
	testConfig(t)

	suite := &backendtesting.BackendTestSuite{
		NewBackend: func(t *testing.T) backend.Backend {
			return newTestBackend(t)
		},
		SkipAccessBits: true,
	}
	suite.Run(t)
}
