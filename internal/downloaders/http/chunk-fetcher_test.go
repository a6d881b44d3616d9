package smarthttp

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smartdl/smartdl/internal/progress"
	"github.com/smartdl/smartdl/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (l *eventLog) Emit(ev progress.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds(kind progress.EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			count++
		}
	}
	return count
}

func newFetcher(url string, events *eventLog) *ChunkFetcher {
	return &ChunkFetcher{
		Client:            testClient(),
		URL:               url,
		Attempts:          3,
		RetryBackoff:      time.Millisecond,
		InactivityTimeout: 5 * time.Second,
		Emit:              events.Emit,
	}
}

func TestChunkFetcherRequestsMissingTail(t *testing.T) {
	data := testData(1000)
	srv := newRangeServer(t, data, nil)
	chunk := utils.ChunkSpec{Index: 1, Start: 200, End: 599, Path: filepath.Join(t.TempDir(), "chunk_1")}
	require.NoError(t, os.WriteFile(chunk.Path, data[200:300], 0644))

	events := &eventLog{}
	require.NoError(t, newFetcher(srv.URL, events).Fetch(context.Background(), chunk))

	assert.Equal(t, []string{"bytes=300-599"}, srv.Ranges())
	content, err := os.ReadFile(chunk.Path)
	require.NoError(t, err)
	assert.Equal(t, data[200:600], content)
	assert.Equal(t, 1, events.kinds(progress.EventChunkDone))

	var last progress.Event
	for _, ev := range events.events {
		if ev.Kind == progress.EventProgress {
			last = ev
		}
	}
	assert.Equal(t, int64(400), last.ChunkTotal)
}

func TestChunkFetcherFreshChunk(t *testing.T) {
	data := testData(1000)
	srv := newRangeServer(t, data, nil)
	chunk := utils.ChunkSpec{Index: 0, Start: 0, End: 499, Path: filepath.Join(t.TempDir(), "chunk_0")}

	require.NoError(t, newFetcher(srv.URL, &eventLog{}).Fetch(context.Background(), chunk))
	assert.Equal(t, []string{"bytes=0-499"}, srv.Ranges())
	content, err := os.ReadFile(chunk.Path)
	require.NoError(t, err)
	assert.Equal(t, data[:500], content)
}

func TestChunkFetcherCompleteChunkMakesNoRequest(t *testing.T) {
	data := testData(1000)
	srv := newRangeServer(t, data, nil)
	chunk := utils.ChunkSpec{Index: 2, Start: 500, End: 999, Path: filepath.Join(t.TempDir(), "chunk_2")}
	require.NoError(t, os.WriteFile(chunk.Path, data[500:], 0644))

	require.NoError(t, newFetcher(srv.URL, &eventLog{}).Fetch(context.Background(), chunk))
	assert.Empty(t, srv.Ranges())
}

func TestChunkFetcherResumesAfterShortBody(t *testing.T) {
	data := testData(1000)
	first := true
	var mu sync.Mutex
	srv := newRangeServer(t, data, func(rs *rangeServer) {
		rs.truncate = func(string) bool {
			mu.Lock()
			defer mu.Unlock()
			cut := first
			first = false
			return cut
		}
	})
	chunk := utils.ChunkSpec{Index: 0, Start: 0, End: 99, Path: filepath.Join(t.TempDir(), "chunk_0")}

	require.NoError(t, newFetcher(srv.URL, &eventLog{}).Fetch(context.Background(), chunk))
	assert.Equal(t, []string{"bytes=0-99", "bytes=50-99"}, srv.Ranges())
	content, err := os.ReadFile(chunk.Path)
	require.NoError(t, err)
	assert.Equal(t, data[:100], content)
}

func TestChunkFetcherRetriesThenFails(t *testing.T) {
	srv := newRangeServer(t, testData(1000), func(rs *rangeServer) {
		rs.fail = func(string) int { return http.StatusServiceUnavailable }
	})
	chunk := utils.ChunkSpec{Index: 3, Start: 0, End: 99, Path: filepath.Join(t.TempDir(), "chunk_3")}
	events := &eventLog{}

	err := newFetcher(srv.URL, events).Fetch(context.Background(), chunk)
	require.Error(t, err)
	assert.Len(t, srv.Ranges(), 3)
	assert.ErrorIs(t, err, utils.ErrChunkFetchFailed)
	var fetchErr *utils.ChunkFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 3, fetchErr.Index)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
	assert.Equal(t, 1, events.kinds(progress.EventChunkFailed))
}

func TestChunkFetcherPermanentFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*rangeServer)
		target error
	}{
		{"not found", func(rs *rangeServer) { rs.fail = func(string) int { return http.StatusNotFound } }, utils.ErrNotFound},
		{"range ignored", func(rs *rangeServer) { rs.noRanges = true }, utils.ErrRangeNotSupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newRangeServer(t, testData(1000), tt.setup)
			chunk := utils.ChunkSpec{Index: 0, Start: 0, End: 99, Path: filepath.Join(t.TempDir(), "chunk_0")}
			err := newFetcher(srv.URL, &eventLog{}).Fetch(context.Background(), chunk)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.ErrorIs(t, err, utils.ErrChunkFetchFailed)
			assert.Len(t, srv.Ranges(), 1)
		})
	}
}

func TestChunkFetcherHeaderTimeout(t *testing.T) {
	srv := newRangeServer(t, testData(1000), func(rs *rangeServer) { rs.stall = true })
	chunk := utils.ChunkSpec{Index: 0, Start: 0, End: 99, Path: filepath.Join(t.TempDir(), "chunk_0")}
	fetcher := newFetcher(srv.URL, &eventLog{})
	fetcher.Attempts = 1
	fetcher.Client = utils.NewClient(utils.HTTPClientConfig{Timeout: 100 * time.Millisecond})

	err := fetcher.Fetch(context.Background(), chunk)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrChunkFetchFailed)
}

func TestChunkFetcherIdleBody(t *testing.T) {
	data := testData(1000)
	srv := httptestStallingBody(t, data[:100])
	chunk := utils.ChunkSpec{Index: 0, Start: 0, End: 999, Path: filepath.Join(t.TempDir(), "chunk_0")}
	fetcher := newFetcher(srv, &eventLog{})
	fetcher.Attempts = 1
	fetcher.InactivityTimeout = 50 * time.Millisecond

	err := fetcher.Fetch(context.Background(), chunk)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrInactivity)
	content, err := os.ReadFile(chunk.Path)
	require.NoError(t, err)
	assert.Equal(t, data[:100], content)
}

func TestChunkFetcherCancelled(t *testing.T) {
	srv := newRangeServer(t, testData(1000), func(rs *rangeServer) { rs.stall = true })
	chunk := utils.ChunkSpec{Index: 0, Start: 0, End: 99, Path: filepath.Join(t.TempDir(), "chunk_0")}
	events := &eventLog{}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-srv.requested
		cancel()
	}()

	err := newFetcher(srv.URL, events).Fetch(ctx, chunk)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, events.kinds(progress.EventChunkFailed))
}

func TestStreamFetcher(t *testing.T) {
	data := testData(1000)
	srv := newRangeServer(t, data, nil)
	path := filepath.Join(t.TempDir(), utils.SinglePartialName)
	fetcher := &StreamFetcher{Client: testClient(), URL: srv.URL, Attempts: 2, RetryBackoff: time.Millisecond}

	size, err := fetcher.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), size)
	assert.Equal(t, []string{""}, srv.Ranges())
}

func TestStreamFetcherResumes(t *testing.T) {
	data := testData(1000)
	srv := newRangeServer(t, data, nil)
	path := filepath.Join(t.TempDir(), utils.SinglePartialName)
	require.NoError(t, os.WriteFile(path, data[:300], 0644))
	fetcher := &StreamFetcher{Client: testClient(), URL: srv.URL, Attempts: 2, RetryBackoff: time.Millisecond}

	size, err := fetcher.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), size)
	assert.Equal(t, []string{"bytes=300-"}, srv.Ranges())
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, content)
}

func TestStreamFetcherRestartsWhenResumeIgnored(t *testing.T) {
	data := testData(1000)
	srv := newRangeServer(t, data, func(rs *rangeServer) { rs.noRanges = true })
	path := filepath.Join(t.TempDir(), utils.SinglePartialName)
	require.NoError(t, os.WriteFile(path, []byte("stale bytes"), 0644))
	fetcher := &StreamFetcher{Client: testClient(), URL: srv.URL, Attempts: 2, RetryBackoff: time.Millisecond}

	_, err := fetcher.Fetch(context.Background(), path)
	require.NoError(t, err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, content)
}

func TestStreamFetcherAlreadyComplete(t *testing.T) {
	data := testData(1000)
	srv := newRangeServer(t, data, nil)
	path := filepath.Join(t.TempDir(), utils.SinglePartialName)
	require.NoError(t, os.WriteFile(path, data, 0644))
	fetcher := &StreamFetcher{Client: testClient(), URL: srv.URL, Attempts: 2, RetryBackoff: time.Millisecond}

	size, err := fetcher.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), size)
	assert.Equal(t, []string{"bytes=1000-"}, srv.Ranges())
}
