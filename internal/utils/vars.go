package utils

import (
	"errors"
	"regexp"
)

const (
	DefaultBufferSize  = 1024 * 256 // 256KB read buffer
	MaxConnections     = 8
	DefaultConnections = 2
	ProbeBytes         = 5 * 1024 * 1024
	FallbackFileName   = "downloaded_file"
	SinglePartialName  = "single_partial"
	ChunkFilePrefix    = "chunk_"
	WorkDirSuffix      = ".smartdl"
	ToolUserAgent      = "smartdl/1.0"
)

var (
	ErrInvalidURL        = errors.New("invalid URL")
	ErrSizeUnknown       = errors.New("remote size unknown")
	ErrInvalidPlan       = errors.New("invalid chunk plan")
	ErrChunkFetchFailed  = errors.New("chunk fetch failed")
	ErrMergeFailed       = errors.New("merge failed")
	ErrCancelled         = errors.New("download cancelled")
	ErrRangeNotSupported = errors.New("range requests are not supported")
	ErrNotFound          = errors.New("resource not found")
	ErrInactivity        = errors.New("no data received within the inactivity timeout")
)

var ChunkIDRegex = regexp.MustCompile(`^chunk_(\d+)$`)
