package smarthttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/smartdl/smartdl/internal/utils"
)

type ProbeResult struct {
	Connections int
	Bytes       int64
	Elapsed     time.Duration
	Speed       float64 // bytes per second
	Err         error
}

// SpeedProbe times the same leading range with different per-host connection limits.
type SpeedProbe struct {
	Client     *utils.Client
	Candidates []int
	Bytes      int64
	Timeout    time.Duration
	Fallback   int
}

// Run measures every candidate concurrently and returns the chosen connection count with
// the raw measurements.
func (p *SpeedProbe) Run(ctx context.Context, link string, totalBytes int64) (int, []ProbeResult) {
	log := utils.GetLogger("http/probe")
	size := p.Bytes
	if size <= 0 {
		size = utils.ProbeBytes
	}
	if totalBytes > 0 && totalBytes < size {
		size = totalBytes
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	results := make([]ProbeResult, len(p.Candidates))
	var wg sync.WaitGroup
	for i, connections := range p.Candidates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = p.measure(ctx, link, connections, size)
		}()
	}
	wg.Wait()

	best := SelectConnections(results, p.Fallback)
	log.Debug().Int("best", best).Int64("bytes", size).Msg("Speed probe finished")
	return best, results
}

func (p *SpeedProbe) measure(ctx context.Context, link string, connections int, size int64) ProbeResult {
	result := ProbeResult{Connections: connections}
	client := p.Client.WithMaxConns(connections)
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		result.Err = err
		return result
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", size-1))
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		result.Err = err
		return result
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		result.Err = &StatusError{Code: resp.StatusCode}
		return result
	}
	result.Bytes, err = io.Copy(io.Discard, io.LimitReader(resp.Body, size))
	result.Elapsed = time.Since(start)
	if err != nil {
		result.Err = err
		return result
	}
	if result.Bytes == 0 || result.Elapsed <= 0 {
		result.Err = errors.New("no data received")
		return result
	}
	result.Speed = float64(result.Bytes) / result.Elapsed.Seconds()
	return result
}

// SelectConnections picks the fastest successful candidate; equal speeds go to the lower
// connection count. Without any measurement it returns fallback.
func SelectConnections(results []ProbeResult, fallback int) int {
	best, bestSpeed := 0, 0.0
	for _, r := range results {
		if r.Err != nil || r.Speed <= 0 {
			continue
		}
		if best == 0 || r.Speed > bestSpeed || (r.Speed == bestSpeed && r.Connections < best) {
			best, bestSpeed = r.Connections, r.Speed
		}
	}
	if best == 0 {
		return fallback
	}
	return best
}
