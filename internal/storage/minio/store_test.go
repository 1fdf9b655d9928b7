package minio

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"neuralnexus/internal/storage/storagetest"
)

// TestStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestStore_Integration(t *testing.T) {
	endpoint := os.Getenv("MINIO_TEST_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:9000"
	}

	store, err := New(context.Background(), Config{
		Endpoint:  endpoint,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "test-neuralnexus",
	})
	if err != nil {
		t.Skipf("MinIO not available: %v", err)
	}
	require.NotNil(t, store)

	storagetest.RunBackendTests(t, store)
}
