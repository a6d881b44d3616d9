package smarthttp

import (
	"os"

	"github.com/smartdl/smartdl/internal/utils"
)

// InspectChunk reads the resume cursor of a chunk from its file. A missing or unreadable
// file counts as zero bytes.
func InspectChunk(chunk utils.ChunkSpec) utils.ChunkState {
	onDisk := fileSize(chunk.Path)
	return utils.ChunkState{
		BytesOnDisk: onDisk,
		Complete:    onDisk >= chunk.Length(),
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0
	}
	return info.Size()
}

// touch creates an empty chunk file so later runs can count the plan from disk.
func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}
