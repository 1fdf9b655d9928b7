package gcs

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"neuralnexus/internal/storage/storagetest"
)

// TestStore_Integration runs against a real bucket or fake-gcs-server.
// GCS_TEST_BUCKET must be set, GCS_TEST_ENDPOINT selects an emulator.
func TestStore_Integration(t *testing.T) {
	bucket := os.Getenv("GCS_TEST_BUCKET")
	if bucket == "" {
		t.Skip("GCS_TEST_BUCKET not set")
	}

	store, err := New(context.Background(), Config{
		Bucket:        bucket,
		Endpoint:      os.Getenv("GCS_TEST_ENDPOINT"),
		UniformAccess: true,
	})
	if err != nil {
		t.Skipf("GCS not available: %v", err)
	}
	defer store.Close()

	storagetest.RunBackendTests(t, store)
}

func TestStore_PublicURL(t *testing.T) {
	s := &Store{bucketName: "nexus-models", publicBaseURL: defaultPublicBaseURL}
	assert.Equal(t, "https://storage.googleapis.com/nexus-models/avatars/u1.png", s.PublicURL("avatars/u1.png"))
}
