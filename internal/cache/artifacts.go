// Package cache maps task metadata to the files a download left in its
// output directory.
package cache

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Suffixes yt-dlp uses for partial and fragmented downloads. Entries with a
// '*' are glob patterns.
var artifactSuffixes = []string{
	"",
	".part",
	".ytdl",
	".part.ytdl",
	"-Frag*",
	".part-Frag*",
	".part-Frag*.part",
}

// resultPathKeys are the top-level result fields naming a produced file.
var resultPathKeys = []string{"filepath", "_filename", "filename", "requested_filename"}

// CandidatePaths lists every file path mentioned in a task's result and in
// the filename of its last progress snapshot.
func CandidatePaths(result map[string]any, progressFilename string) []string {
	var paths []string
	for _, key := range resultPathKeys {
		if v, ok := result[key].(string); ok && v != "" {
			paths = append(paths, v)
		}
	}
	if downloads, ok := result["requested_downloads"].([]any); ok {
		for _, d := range downloads {
			entry, ok := d.(map[string]any)
			if !ok {
				continue
			}
			if v, ok := entry["filepath"].(string); ok && v != "" {
				paths = append(paths, v)
			} else if v, ok := entry["filename"].(string); ok && v != "" {
				paths = append(paths, v)
			}
		}
	}
	if progressFilename != "" {
		paths = append(paths, progressFilename)
	}
	return paths
}

// Within reports whether path is dir or lies below it. Both must be absolute
// and clean.
func Within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// NormalizePaths resolves candidates to absolute paths inside outputDir. A
// path outside outputDir is retried relative to it; if still outside it is
// dropped.
func NormalizePaths(paths []string, outputDir string) []string {
	dir, err := filepath.Abs(outputDir)
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil || !Within(abs, dir) {
			abs, err = filepath.Abs(filepath.Join(dir, p))
			if err != nil || !Within(abs, dir) {
				continue
			}
		}
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	}
	return out
}

// ExpandArtifacts returns base and its partial-download relatives. Literal
// suffixes are returned whether or not the file exists; glob suffixes only
// yield existing matches.
func ExpandArtifacts(base string) []string {
	var out []string
	escaped := escapeGlob(base)
	for _, suffix := range artifactSuffixes {
		if !strings.Contains(suffix, "*") {
			out = append(out, base+suffix)
			continue
		}
		matches, err := filepath.Glob(escaped + suffix)
		if err != nil {
			continue
		}
		out = append(out, matches...)
	}
	return out
}

// Artifacts computes every path that may belong to a task, restricted to
// outputDir, longest first.
func Artifacts(outputDir string, result map[string]any, progressFilename string) []string {
	dir, err := filepath.Abs(outputDir)
	if err != nil {
		return nil
	}
	set := make(map[string]bool)
	for _, base := range NormalizePaths(CandidatePaths(result, progressFilename), dir) {
		for _, p := range ExpandArtifacts(base) {
			abs, err := filepath.Abs(p)
			if err != nil || !Within(abs, dir) {
				continue
			}
			set[abs] = true
		}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// RemoveArtifacts deletes the task's files and returns how many regular
// files were removed. Individual failures are logged and skipped.
func RemoveArtifacts(outputDir string, result map[string]any, progressFilename string) int {
	deleted := 0
	for _, p := range Artifacts(outputDir, result, progressFilename) {
		info, err := os.Lstat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if err := os.Remove(p); err != nil {
			log.Printf("[cache] error deleting file %s: %v", p, err)
			continue
		}
		deleted++
	}
	return deleted
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
