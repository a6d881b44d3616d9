package smarthttp

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/smartdl/smartdl/internal/utils"
)

// MergeChunks concatenates the chunk files in index order into outputPath and verifies
// the result length. Exactly Length() bytes are taken from each chunk. On failure the
// partial output is removed and the chunk files are left alone.
func MergeChunks(ctx context.Context, chunks []utils.ChunkSpec, outputPath string) (int64, error) {
	log := utils.GetLogger("http/merge")
	sorted := make([]utils.ChunkSpec, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Index < sorted[j].Index
	})

	destFile, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("%w: error creating output file: %v", utils.ErrMergeFailed, err)
	}
	abort := func(err error) (int64, error) {
		destFile.Close()
		os.Remove(outputPath)
		return 0, err
	}

	var expected, totalWritten int64
	for _, chunk := range sorted {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		expected += chunk.Length()
		chunkFile, err := os.Open(chunk.Path)
		if err != nil {
			return abort(fmt.Errorf("%w: error opening chunk %d: %v", utils.ErrMergeFailed, chunk.Index, err))
		}
		written, err := io.CopyN(destFile, contextReader{ctx: ctx, r: chunkFile}, chunk.Length())
		chunkFile.Close()
		totalWritten += written
		if err != nil {
			return abort(fmt.Errorf("%w: error copying chunk %d: %v", utils.ErrMergeFailed, chunk.Index, err))
		}
	}
	if err := destFile.Sync(); err != nil {
		return abort(fmt.Errorf("%w: %v", utils.ErrMergeFailed, err))
	}
	if err := destFile.Close(); err != nil {
		os.Remove(outputPath)
		return 0, fmt.Errorf("%w: %v", utils.ErrMergeFailed, err)
	}
	if info, err := os.Stat(outputPath); err != nil || info.Size() != expected {
		os.Remove(outputPath)
		return 0, fmt.Errorf("%w: size mismatch: expected %d, wrote %d", utils.ErrMergeFailed, expected, totalWritten)
	}
	log.Debug().Int("chunks", len(sorted)).Int64("bytes", totalWritten).Msg("Chunks merged")
	return totalWritten, nil
}

// contextReader fails reads once ctx is done so a long chunk copy stops on cancel.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// removeChunks deletes the chunk files and the working directory after a verified merge.
func removeChunks(chunks []utils.ChunkSpec, workDir string) error {
	for _, chunk := range chunks {
		if err := os.Remove(chunk.Path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return os.RemoveAll(workDir)
}
