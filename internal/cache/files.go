package cache

import (
	"errors"
	"os"
	"path/filepath"
)

var ErrFileNotFound = errors.New("Video file not found on server")

// ResolveFile picks the produced file of a completed task: the first
// requested download's filename, then requested_filename, _filename or
// filepath, then a "title.ext" guess in outputDir. It fails if the file is
// not on disk.
func ResolveFile(outputDir string, result map[string]any) (string, error) {
	var filename string
	if downloads, ok := result["requested_downloads"].([]any); ok && len(downloads) > 0 {
		if first, ok := downloads[0].(map[string]any); ok {
			filename, _ = first["filename"].(string)
		}
	}
	for _, key := range []string{"requested_filename", "_filename", "filepath"} {
		if filename != "" {
			break
		}
		filename, _ = result[key].(string)
	}
	if filename == "" {
		title, _ := result["title"].(string)
		if title == "" {
			title = "video"
		}
		ext, _ := result["ext"].(string)
		if ext == "" {
			ext = "mp4"
		}
		filename = filepath.Join(outputDir, title+"."+ext)
	}

	info, err := os.Stat(filename)
	if err != nil || info.IsDir() {
		return "", ErrFileNotFound
	}
	return filename, nil
}
