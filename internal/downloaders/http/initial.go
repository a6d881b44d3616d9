package smarthttp

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/smartdl/smartdl/internal/utils"
)

// FileInfo is what the sizing probe learned about the remote resource.
// Size <= 0 means unknown.
type FileInfo struct {
	Size           int64
	RangeSupported bool
	ContentType    string
}

// StatusError is a non-success HTTP status from the server.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d (%s)", e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Is(target error) bool {
	return target == utils.ErrNotFound && (e.Code == http.StatusNotFound || e.Code == http.StatusGone)
}

// Permanent reports whether retrying the same request is pointless.
func (e *StatusError) Permanent() bool {
	if e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests {
		return false
	}
	return e.Code >= 400 && e.Code < 500
}

// GetFileInfo sends a HEAD request for the total size. Missing sizes, failed HEAD requests
// and servers refusing ranges are reported with utils.ErrSizeUnknown so the caller can fall
// back to a single stream; not-found and access errors are fatal.
func GetFileInfo(ctx context.Context, link string, client *utils.Client) (FileInfo, error) {
	log := utils.GetLogger("http/initial")
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: %v", utils.ErrInvalidURL, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return FileInfo{}, ctx.Err()
		}
		log.Debug().Err(err).Msg("HEAD request failed")
		return FileInfo{}, fmt.Errorf("%w: HEAD request failed: %v", utils.ErrSizeUnknown, err)
	}
	defer resp.Body.Close()

	switch code := resp.StatusCode; {
	case code == http.StatusNotFound || code == http.StatusGone:
		return FileInfo{}, &StatusError{Code: code}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return FileInfo{}, &StatusError{Code: code}
	case code >= 400:
		log.Debug().Int("status", code).Msg("HEAD not usable, size unknown")
		return FileInfo{}, fmt.Errorf("%w: HEAD returned %d", utils.ErrSizeUnknown, code)
	}

	info := FileInfo{
		ContentType:    resp.Header.Get("Content-Type"),
		RangeSupported: !strings.EqualFold(strings.TrimSpace(resp.Header.Get("Accept-Ranges")), "none"),
	}
	contentLength := resp.Header.Get("Content-Length")
	if contentLength == "" {
		return info, fmt.Errorf("%w: server didn't provide Content-Length header", utils.ErrSizeUnknown)
	}
	size, err := strconv.ParseInt(contentLength, 10, 64)
	if err != nil || size <= 0 {
		return info, fmt.Errorf("%w: invalid Content-Length %q", utils.ErrSizeUnknown, contentLength)
	}
	info.Size = size
	log.Debug().Int64("size", size).Bool("ranges", info.RangeSupported).Msg("file info")
	return info, nil
}

// parseContentRange parses "bytes start-end/total". total is -1 when the server sends "*".
func parseContentRange(value string) (start, end, total int64, err error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", value)
	}
	rng, size, ok := strings.Cut(spec, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", value)
	}
	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", value)
	}
	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q: %w", value, err)
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q: %w", value, err)
	}
	total = -1
	if size != "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil {
			return 0, 0, 0, fmt.Errorf("malformed Content-Range %q: %w", value, err)
		}
	}
	if end < start {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", value)
	}
	return start, end, total, nil
}
