package downloader

import (
	"strings"
)

var unsafeFilenameChars = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_",
)

// NormalizeString trims s, replaces path and shell sensitive characters with
// underscores and caps the length at maxLength bytes, marking truncation
// with "...".
func NormalizeString(s string, maxLength int) string {
	s = unsafeFilenameChars.Replace(strings.TrimSpace(s))
	if len(s) > maxLength {
		s = strings.ToValidUTF8(s[:max(maxLength-3, 0)], "") + "..."
	}
	return s
}

// SafeFilename builds "format-title.ext" within maxLength bytes. The title
// always keeps at least 20 bytes; the format prefix is shortened instead.
func SafeFilename(title, format, ext string, maxLength int) string {
	safeFormat := NormalizeString(format, 50)
	safeExt := strings.ToLower(ext)

	available := maxLength - (len(safeFormat) + len(safeExt) + 2)
	if available < 20 {
		available = 20
		if len(safeFormat) > 10 {
			safeFormat = safeFormat[:10]
		}
	}

	safeTitle := NormalizeString(title, available)
	if safeFormat == "" {
		return safeTitle + "." + safeExt
	}
	return safeFormat + "-" + safeTitle + "." + safeExt
}
