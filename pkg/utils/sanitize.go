package utils

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// --- Filename Sanitization ---
var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`) // Characters invalid in Windows/Unix filenames
var consecutiveUnderscores = regexp.MustCompile(`_+`)                  // Pattern to replace multiple underscores with one
const maxFilenameLength = 100                                          // Max length for sanitized filenames

// maxUniqueNameAttempts bounds the collision loop in UniqueFileName.
const maxUniqueNameAttempts = 1000

// SanitizeFilename cleans a string to be safe for use as a filename component
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")       // Replace invalid chars with underscore
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_") // Collapse multiple underscores
	sanitized = strings.Trim(sanitized, "_ ")                           // Remove leading/trailing underscores or spaces

	if len(sanitized) > maxFilenameLength {
		sanitized = sanitized[:maxFilenameLength]
		sanitized = strings.Trim(sanitized, "_ ")
	}

	if sanitized == "" {
		sanitized = "untitled"
	}
	return sanitized
}

// UniqueFileName returns a file name for name inside dir that is not present in
// taken (keyed by lower-cased name) and whose full path fits in maxPathLen
// bytes (0 = no limit).
// Candidates are tried in order: the name itself, then "name_2.ext", "name_3.ext", ...
// The base name is shortened whenever the candidate path is too long.
// The chosen name is added to taken.
func UniqueFileName(dir, name string, taken map[string]bool, maxPathLen int) (string, error) {
	name = SanitizeFilename(name)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		base = "untitled"
	}

	for attempt := 1; attempt <= maxUniqueNameAttempts; attempt++ {
		suffix := ""
		if attempt > 1 {
			suffix = fmt.Sprintf("_%d", attempt)
		}

		candidateBase := base
		if maxPathLen > 0 {
			// +1 for the separator between dir and file name
			overflow := len(dir) + 1 + len(candidateBase) + len(suffix) + len(ext) - maxPathLen
			if overflow > 0 {
				if overflow >= len(candidateBase) {
					return "", fmt.Errorf("%w: directory '%s' leaves no room for '%s'", ErrPathTooLong, dir, name)
				}
				candidateBase = candidateBase[:len(candidateBase)-overflow]
			}
		}

		candidate := candidateBase + suffix + ext
		key := strings.ToLower(candidate)
		if !taken[key] {
			taken[key] = true
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no free name for '%s' after %d attempts", ErrFilesystem, name, maxUniqueNameAttempts)
}
