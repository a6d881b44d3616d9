package smarthttp

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smartdl/smartdl/internal/config"
	"github.com/smartdl/smartdl/internal/utils"
)

// rangeServer serves data with byte-range support and records every GET Range header.
type rangeServer struct {
	*httptest.Server
	data []byte

	noRanges   bool                  // answer ranged GETs with the full body and advertise none
	hideLength bool                  // leave Content-Length out of HEAD responses
	headStatus int                   // status for HEAD, 200 when zero
	fail       func(rng string) int  // status to return instead of data, 0 to serve
	truncate   func(rng string) bool // send half the body and drop the connection
	stall      bool                  // hold GETs until the client goes away
	requested  chan string

	mu     sync.Mutex
	ranges []string
	heads  int
}

func newRangeServer(t *testing.T, data []byte, configure func(*rangeServer)) *rangeServer {
	t.Helper()
	rs := &rangeServer{data: data, requested: make(chan string, 64)}
	if configure != nil {
		configure(rs)
	}
	rs.Server = httptest.NewServer(rs)
	t.Cleanup(rs.Close)
	return rs
}

func (rs *rangeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	size := len(rs.data)
	if r.Method == http.MethodHead {
		rs.mu.Lock()
		rs.heads++
		rs.mu.Unlock()
		if rs.noRanges {
			w.Header().Set("Accept-Ranges", "none")
		} else {
			w.Header().Set("Accept-Ranges", "bytes")
		}
		if !rs.hideLength {
			w.Header().Set("Content-Length", strconv.Itoa(size))
		}
		if rs.headStatus != 0 {
			w.WriteHeader(rs.headStatus)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	rng := r.Header.Get("Range")
	rs.mu.Lock()
	rs.ranges = append(rs.ranges, rng)
	rs.mu.Unlock()
	select {
	case rs.requested <- rng:
	default:
	}

	if rs.stall {
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
		return
	}
	if rs.fail != nil {
		if status := rs.fail(rng); status != 0 {
			w.WriteHeader(status)
			return
		}
	}
	if rng == "" || rs.noRanges {
		w.Header().Set("Content-Length", strconv.Itoa(size))
		w.WriteHeader(http.StatusOK)
		w.Write(rs.data)
		return
	}
	start, end, ok := parseRangeHeader(rng, size)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	body := rs.data[start : end+1]
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusPartialContent)
	if rs.truncate != nil && rs.truncate(rng) {
		w.Write(body[:len(body)/2])
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}
	w.Write(body)
}

func (rs *rangeServer) Ranges() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.ranges...)
}

func (rs *rangeServer) Heads() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.heads
}

// parseRangeHeader understands "bytes=a-b" and "bytes=a-".
func parseRangeHeader(value string, size int) (int, int, bool) {
	spec, ok := strings.CutPrefix(value, "bytes=")
	if !ok {
		return 0, 0, false
	}
	first, last, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, false
	}
	start, err := strconv.Atoi(first)
	if err != nil || start >= size {
		return 0, 0, false
	}
	end := size - 1
	if last != "" {
		if end, err = strconv.Atoi(last); err != nil || end < start {
			return 0, 0, false
		}
		end = min(end, size-1)
	}
	return start, end, true
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + 1)
	}
	return data
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Retries = 2
	cfg.RetryBackoff = time.Millisecond
	cfg.InactivityTimeout = 5 * time.Second
	cfg.ProbeTimeout = 5 * time.Second
	return cfg
}

func testClient() *utils.Client {
	return utils.NewClient(testConfig().HTTPClientConfig(0))
}

// httptestStallingBody answers every request with a 206 carrying head and then stops
// sending without closing the response.
func httptestStallingBody(t *testing.T, head []byte) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-999/%d", 1000))
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(head)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}
