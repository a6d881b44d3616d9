package smarthttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smartdl/smartdl/internal/progress"
	"github.com/smartdl/smartdl/internal/utils"
)

// StreamFetcher downloads a resource of unknown size (or from a server without range
// support) into one partial file, resuming with an open-ended range when possible.
type StreamFetcher struct {
	Client            *utils.Client
	URL               string
	Attempts          int
	RetryBackoff      time.Duration
	InactivityTimeout time.Duration
	Emit              func(progress.Event)
}

// Fetch returns the size of the partial file once the stream has ended.
func (f *StreamFetcher) Fetch(ctx context.Context, partialPath string) (int64, error) {
	log := utils.GetLogger("http/simple-downloader")
	notify := func(err error, next time.Duration) {
		log.Warn().Err(err).Dur("backoff", next).Msg("Retrying download")
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, f.fetchOnce(ctx, partialPath)
	}, retryOptions(f.Attempts, f.RetryBackoff, notify)...)
	size := fileSize(partialPath)
	if err == nil {
		f.emit(progress.Event{Kind: progress.EventChunkDone})
		log.Info().Int64("bytes", size).Msg("Simple download successful")
		return size, nil
	}
	if ctx.Err() != nil {
		return size, ctx.Err()
	}
	err = unwrapPermanent(err)
	f.emit(progress.Event{Kind: progress.EventChunkFailed, Err: err})
	return size, &utils.ChunkFetchError{Index: 0, Cause: err}
}

func (f *StreamFetcher) fetchOnce(ctx context.Context, partialPath string) error {
	log := utils.GetLogger("http/simple-downloader")
	resumeOffset := fileSize(partialPath)
	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, f.URL, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("error creating GET request: %w", err))
	}
	if resumeOffset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeOffset))
		log.Debug().Msgf("Resuming download from offset %d", resumeOffset)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("error executing GET request: %w", err)
	}
	defer resp.Body.Close()

	fileMode := os.O_CREATE | os.O_WRONLY
	switch {
	case resumeOffset > 0 && resp.StatusCode == http.StatusPartialContent:
		if start, _, _, err := parseContentRange(resp.Header.Get("Content-Range")); err == nil && start != resumeOffset {
			return backoff.Permanent(fmt.Errorf("%w: got range starting at %d, want %d", utils.ErrRangeNotSupported, start, resumeOffset))
		}
		fileMode |= os.O_APPEND
		f.emit(progress.Event{Kind: progress.EventProgress, ChunkTotal: resumeOffset})
	case resumeOffset > 0 && resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		// nothing past the cursor: the previous run already got everything
		return nil
	case resp.StatusCode == http.StatusOK:
		if resumeOffset > 0 {
			log.Warn().Msgf("Server does not support resume (status %d). Restarting download.", resp.StatusCode)
		}
		resumeOffset = 0
		fileMode |= os.O_TRUNC
	default:
		return statusFailure(resp.StatusCode)
	}

	outFile, err := os.OpenFile(partialPath, fileMode, 0644)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("error creating output file: %w", err))
	}
	defer outFile.Close()

	body := newIdleReader(resp.Body, f.InactivityTimeout, func() { cancel(utils.ErrInactivity) })
	defer body.Stop()
	written, err := copyWithProgress(outFile, body, func(n, total int64) {
		f.emit(progress.Event{Kind: progress.EventProgress, Bytes: n, ChunkTotal: resumeOffset + total})
	})
	if err != nil {
		return classifyCopyError(reqCtx, err)
	}
	if resp.ContentLength > 0 && written < resp.ContentLength {
		return fmt.Errorf("short body: got %d of %d bytes: %w", written, resp.ContentLength, io.ErrUnexpectedEOF)
	}
	if err := outFile.Sync(); err != nil {
		return backoff.Permanent(fmt.Errorf("%w: %v", errWrite, err))
	}
	return nil
}

func (f *StreamFetcher) emit(ev progress.Event) {
	if f.Emit != nil {
		f.Emit(ev)
	}
}
