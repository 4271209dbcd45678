package redisstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

type fakeClient struct {
	mu      sync.Mutex
	values  map[string][]byte
	ttls    map[string]time.Duration
	failSet error
	closed  bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{values: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx, "set", key)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet != nil {
		cmd.SetErr(f.failSet)
		return cmd
	}
	f.values[key] = append([]byte(nil), value.([]byte)...)
	f.ttls[key] = expiration
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeClient) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx, "get", key)
	f.mu.Lock()
	defer f.mu.Unlock()
	val, ok := f.values[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(string(val))
	return cmd
}

func (f *fakeClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "del")
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := f.values[key]; ok {
			delete(f.values, key)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestJobArchive_RoundTrip(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	archive := NewWithClient(client, "", time.Hour)
	job := crawler.Job{
		ID:      "job-1",
		RootURL: "https://example.com",
		Status:  crawler.JobStatusCompleted,
		Pages:   []crawler.PageRecord{{URL: "https://example.com", Status: crawler.PageStatusSuccess}},
	}

	require.NoError(t, archive.SaveJob(context.Background(), job))
	require.Contains(t, client.values, "schemacrawler:job:job-1")
	require.Equal(t, time.Hour, client.ttls["schemacrawler:job:job-1"])

	got, err := archive.LoadJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, job.RootURL, got.RootURL)
	require.Len(t, got.Pages, 1)

	require.NoError(t, archive.DeleteJob(context.Background(), "job-1"))
	_, err = archive.LoadJob(context.Background(), "job-1")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
	require.ErrorIs(t, archive.DeleteJob(context.Background(), "job-1"), crawler.ErrJobNotFound)

	require.NoError(t, archive.Close())
	require.True(t, client.closed)
}

func TestJobArchive_Errors(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.failSet = errors.New("READONLY")
	archive := NewWithClient(client, "p:", 0)

	require.Error(t, archive.SaveJob(context.Background(), crawler.Job{}))
	require.ErrorContains(t, archive.SaveJob(context.Background(), crawler.Job{ID: "x"}), "READONLY")

	client.values["p:bad"] = []byte("{not json")
	_, err := archive.LoadJob(context.Background(), "bad")
	require.ErrorContains(t, err, "decode job bad")
}

func TestNew_RequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)

	archive, err := New(Config{Addr: "127.0.0.1:6379", Prefix: "x:"})
	require.NoError(t, err)
	require.Equal(t, "x:", archive.prefix)
	require.NoError(t, archive.Close())
}
