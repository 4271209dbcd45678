package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, handler http.Handler) *storage.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(srv.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client := newTestClient(t, http.NotFoundHandler())
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestBlobStore_PutObject(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		gotName  string
		gotBody  string
		gotQuery string
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotName = r.URL.Query().Get("name")
		gotQuery = r.URL.Path
		gotBody = string(body)
		mu.Unlock()
		fmt.Fprintf(w, `{"name": %q, "bucket": "exports"}`, r.URL.Query().Get("name"))
	})
	store, err := New(newTestClient(t, handler), Config{Bucket: "exports", Prefix: "/schema/"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "example.com_job/index.json", "application/json", strings.NewReader(`{"pages":[]}`))
	require.NoError(t, err)
	require.Equal(t, "gs://exports/schema/example.com_job/index.json", uri)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "schema/example.com_job/index.json", gotName)
	require.Contains(t, gotQuery, "/upload/storage/v1/b/exports/o")
	require.Contains(t, gotBody, `{"pages":[]}`)
}

func TestBlobStore_PutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := New(newTestClient(t, http.NotFoundHandler()), Config{Bucket: "exports"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), " ", "", strings.NewReader("x"))
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	s := &BlobStore{cfg: Config{Prefix: ""}}
	require.Equal(t, "a/b.json", s.objectName("/a/b.json"))
	s.cfg.Prefix = "exports"
	require.Equal(t, "exports/a/b.json", s.objectName("a/b.json"))
}
