package utils

import (
	"fmt"
	"time"
)

// ChunkSpec is one contiguous byte range of the remote resource. End is inclusive.
type ChunkSpec struct {
	Index int
	Start int64
	End   int64
	Path  string
}

func (c ChunkSpec) Length() int64 {
	return c.End - c.Start + 1
}

// RangeHeader returns the Range value for the bytes of c not yet on disk.
func (c ChunkSpec) RangeHeader(onDisk int64) string {
	return fmt.Sprintf("bytes=%d-%d", c.Start+onDisk, c.End)
}

// ChunkState is derived from the chunk file on disk and never stored.
type ChunkState struct {
	BytesOnDisk int64
	Complete    bool
}

type HTTPClientConfig struct {
	Timeout         time.Duration // response header timeout
	KATimeout       time.Duration
	UserAgent       string
	Headers         map[string]string
	MaxConnsPerHost int
	HighThreadMode  bool // advanced socket options for high concurrency
}

type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Result is the terminal outcome of a download session.
type Result struct {
	Outcome    Outcome
	OutputPath string
	Bytes      int64
	Err        error
}

// ChunkFetchError reports a chunk whose retries were exhausted.
type ChunkFetchError struct {
	Index int
	Cause error
}

func (e *ChunkFetchError) Error() string {
	return fmt.Sprintf("chunk %d failed: %v", e.Index, e.Cause)
}

func (e *ChunkFetchError) Unwrap() error {
	return e.Cause
}

func (e *ChunkFetchError) Is(target error) bool {
	return target == ErrChunkFetchFailed
}
