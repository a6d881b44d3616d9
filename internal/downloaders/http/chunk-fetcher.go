package smarthttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smartdl/smartdl/internal/progress"
	"github.com/smartdl/smartdl/internal/utils"
)

var errWrite = errors.New("error writing to file")

// ChunkFetcher downloads the missing tail of chunk files. One fetcher is shared by all
// chunks of a session; Fetch is safe for concurrent use.
type ChunkFetcher struct {
	Client            *utils.Client
	URL               string
	Attempts          int
	RetryBackoff      time.Duration
	InactivityTimeout time.Duration
	Emit              func(progress.Event)
}

// Fetch brings the chunk file to its full length, retrying transient failures. Exhausted
// or permanent failures return a *utils.ChunkFetchError; cancellation returns ctx.Err().
func (f *ChunkFetcher) Fetch(ctx context.Context, chunk utils.ChunkSpec) error {
	logger := utils.GetLogger("http/chunk-fetcher").With().Int("chunk", chunk.Index).Logger()
	notify := func(err error, next time.Duration) {
		logger.Warn().Err(err).Dur("backoff", next).Msg("Retrying chunk")
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, f.fetchOnce(ctx, chunk)
	}, retryOptions(f.Attempts, f.RetryBackoff, notify)...)
	if err == nil {
		f.emit(progress.Event{Chunk: chunk.Index, Kind: progress.EventChunkDone})
		logger.Debug().Msg("Chunk complete")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	err = unwrapPermanent(err)
	f.emit(progress.Event{Chunk: chunk.Index, Kind: progress.EventChunkFailed, Err: err})
	logger.Error().Err(err).Msg("Chunk failed")
	return &utils.ChunkFetchError{Index: chunk.Index, Cause: err}
}

func (f *ChunkFetcher) fetchOnce(ctx context.Context, chunk utils.ChunkSpec) error {
	log := utils.GetLogger("http/chunk-fetcher")
	state := InspectChunk(chunk)
	if state.Complete {
		f.emit(progress.Event{Chunk: chunk.Index, Kind: progress.EventProgress, ChunkTotal: chunk.Length()})
		return nil
	}
	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, f.URL, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("error creating GET request: %w", err))
	}
	rangeHeader := chunk.RangeHeader(state.BytesOnDisk)
	req.Header.Set("Range", rangeHeader)
	log.Debug().Int("chunk", chunk.Index).Str("range", rangeHeader).Msg("Requesting range")
	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("error executing range request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		return backoff.Permanent(fmt.Errorf("%w: server answered %s with the full body", utils.ErrRangeNotSupported, rangeHeader))
	default:
		return statusFailure(resp.StatusCode)
	}
	wantStart := chunk.Start + state.BytesOnDisk
	if start, _, _, err := parseContentRange(resp.Header.Get("Content-Range")); err == nil && start != wantStart {
		return backoff.Permanent(fmt.Errorf("%w: got range starting at %d, want %d", utils.ErrRangeNotSupported, start, wantStart))
	}

	fileMode := os.O_CREATE | os.O_WRONLY
	if state.BytesOnDisk == 0 {
		fileMode |= os.O_TRUNC
	} else {
		fileMode |= os.O_APPEND
	}
	outFile, err := os.OpenFile(chunk.Path, fileMode, 0644)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("error opening chunk file: %w", err))
	}
	defer outFile.Close()

	remaining := chunk.Length() - state.BytesOnDisk
	body := newIdleReader(resp.Body, f.InactivityTimeout, func() { cancel(utils.ErrInactivity) })
	defer body.Stop()
	written, err := copyWithProgress(outFile, io.LimitReader(body, remaining), func(n, total int64) {
		f.emit(progress.Event{
			Chunk:      chunk.Index,
			Kind:       progress.EventProgress,
			Bytes:      n,
			ChunkTotal: state.BytesOnDisk + total,
		})
	})
	if err != nil {
		return classifyCopyError(reqCtx, err)
	}
	if written < remaining {
		return fmt.Errorf("short body: got %d of %d bytes: %w", written, remaining, io.ErrUnexpectedEOF)
	}
	if err := outFile.Sync(); err != nil {
		return backoff.Permanent(fmt.Errorf("%w: %v", errWrite, err))
	}
	return nil
}

func (f *ChunkFetcher) emit(ev progress.Event) {
	if f.Emit != nil {
		f.Emit(ev)
	}
}

// copyWithProgress copies src to dst through a fixed buffer and reports every write.
func copyWithProgress(dst io.Writer, src io.Reader, onWrite func(n, total int64)) (int64, error) {
	buffer := make([]byte, utils.DefaultBufferSize)
	var total int64
	for {
		bytesRead, readErr := src.Read(buffer)
		if bytesRead > 0 {
			if _, err := dst.Write(buffer[:bytesRead]); err != nil {
				return total, fmt.Errorf("%w: %v", errWrite, err)
			}
			total += int64(bytesRead)
			onWrite(int64(bytesRead), total)
		}
		if readErr != nil {
			if readErr == io.EOF {
				return total, nil
			}
			return total, fmt.Errorf("error reading response body: %w", readErr)
		}
	}
}

// classifyCopyError turns a failed body copy into a retryable or permanent error.
func classifyCopyError(reqCtx context.Context, err error) error {
	if errors.Is(err, errWrite) {
		return backoff.Permanent(err)
	}
	if cause := context.Cause(reqCtx); errors.Is(cause, utils.ErrInactivity) {
		return utils.ErrInactivity
	}
	return err
}

func statusFailure(code int) error {
	err := &StatusError{Code: code}
	if err.Permanent() {
		return backoff.Permanent(err)
	}
	return err
}

func retryOptions(attempts int, initial time.Duration, notify backoff.Notify) []backoff.RetryOption {
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	if initial > 0 {
		b.InitialInterval = initial
	}
	b.MaxInterval = 30 * time.Second
	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	}
}

// unwrapPermanent strips the retry marker, which survives when the last attempt was permanent.
func unwrapPermanent(err error) error {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	return err
}

// idleReader fires onIdle when no data arrives for the timeout. A zero timeout disables it.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
}

func newIdleReader(r io.Reader, timeout time.Duration, onIdle func()) *idleReader {
	ir := &idleReader{r: r, timeout: timeout}
	if timeout > 0 {
		ir.timer = time.AfterFunc(timeout, onIdle)
	}
	return ir
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 && r.timer != nil {
		r.timer.Reset(r.timeout)
	}
	return n, err
}

func (r *idleReader) Stop() {
	if r.timer != nil {
		r.timer.Stop()
	}
}
