package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// TestNewValidatesConfig requires a client and bucket.
func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() {
		_ = client.Close()
	}()

	_, err = New(client, Config{Bucket: " "})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "results", Prefix: "/linkcheck/runs/"})
	require.NoError(t, err)
	require.Equal(t, "linkcheck/runs/working_links.txt", store.ObjectName("working_links.txt"))

	_, err = store.PutObject(context.Background(), "", "text/plain", nil)
	require.Error(t, err)
}
