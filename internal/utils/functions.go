package utils

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// ValidateURL accepts absolute http(s) URLs only.
func ValidateURL(raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return parsed, nil
}

// OutputNameFromURL returns the last path segment of the URL or the fallback name.
func OutputNameFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return FallbackFileName
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return FallbackFileName
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	return name
}

func splitExt(base string) (string, string) {
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	if name == "" {
		return base, ""
	}
	return name, ext
}

// RenewOutputPath appends " copy N" before the extension until the path is free.
// A path that does not exist yet is returned as is.
func RenewOutputPath(outputPath string) string {
	if _, err := os.Stat(outputPath); os.IsNotExist(err) {
		return outputPath
	}
	dir := filepath.Dir(outputPath)
	name, ext := splitExt(filepath.Base(outputPath))
	index := 1
	for {
		candidate := filepath.Join(dir, fmt.Sprintf("%s copy %d%s", name, index, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		index++
	}
}

// WorkDirFor returns the working directory that holds the chunk files of outputPath.
func WorkDirFor(outputPath string) string {
	return filepath.Join(filepath.Dir(outputPath), "."+filepath.Base(outputPath)+WorkDirSuffix)
}

func ChunkPath(workDir string, index int) string {
	return filepath.Join(workDir, fmt.Sprintf("%s%d", ChunkFilePrefix, index))
}

func SinglePartialPath(workDir string) string {
	return filepath.Join(workDir, SinglePartialName)
}

// ExistingChunkCount counts the chunk files left in workDir by an earlier run.
func ExistingChunkCount(workDir string) int {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		matches := ChunkIDRegex.FindStringSubmatch(entry.Name())
		if len(matches) < 2 || entry.IsDir() {
			continue
		}
		if _, err := strconv.Atoi(matches[1]); err == nil {
			count++
		}
	}
	return count
}

// Clean removes the working directory of outputPath.
func Clean(outputPath string) error {
	workDir := WorkDirFor(outputPath)
	if _, err := os.Stat(workDir); os.IsNotExist(err) {
		return nil
	}
	return os.RemoveAll(workDir)
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}
