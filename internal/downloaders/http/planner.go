package smarthttp

import (
	"fmt"

	"github.com/smartdl/smartdl/internal/utils"
)

// PlanChunks splits [0, totalBytes) into contiguous ranges. Every chunk but the last has
// totalBytes/connections bytes and the last absorbs the remainder. More connections than
// bytes are clamped so no chunk is empty.
func PlanChunks(totalBytes int64, connections int, workDir string) ([]utils.ChunkSpec, error) {
	if totalBytes <= 0 || connections < 1 {
		return nil, fmt.Errorf("%w: total %d bytes, %d connections", utils.ErrInvalidPlan, totalBytes, connections)
	}
	n := int64(connections)
	if n > totalBytes {
		n = totalBytes
	}
	chunkSize := totalBytes / n
	chunks := make([]utils.ChunkSpec, 0, n)
	for i := range n {
		start := i * chunkSize
		end := start + chunkSize - 1
		if i == n-1 {
			end = totalBytes - 1
		}
		chunks = append(chunks, utils.ChunkSpec{
			Index: int(i),
			Start: start,
			End:   end,
			Path:  utils.ChunkPath(workDir, int(i)),
		})
	}
	return chunks, nil
}
