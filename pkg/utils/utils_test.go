package utils

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
)

// --- CategorizeError Tests ---

func TestCategorizeError_NilError(t *testing.T) {
	result := CategorizeError(nil)
	if result != "None" {
		t.Errorf("CategorizeError(nil) = %q, want %q", result, "None")
	}
}

func TestCategorizeError_SentinelErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"NotModified", ErrNotModified, "HTTP_304"},
		{"NotFound", ErrNotFound, "HTTP_404"},
		{"Corrupt", ErrCorrupt, "Transfer_Corrupt"},
		{"PathTooLong", ErrPathTooLong, "Filesystem_PathTooLong"},
		{"IOFatal", ErrIOFatal, "IOFatal_Other"},
		{"Aborted", ErrAborted, "Download_Aborted"},
		{"RobotsDisallowed", ErrRobotsDisallowed, "Policy_Robots"},
		{"RequestCreation", ErrRequestCreation, "Internal_RequestCreation"},
		{"ResponseBodyRead", ErrResponseBodyRead, "Network_BodyRead"},
		{"ConfigValidation", ErrConfigValidation, "Config_Validation"},
		{"ServerHTTPError", ErrServerHTTPError, "HTTP_5xx"},
		{"OtherHTTPError", ErrOtherHTTPError, "HTTP_OtherStatus"},
		{"Database", ErrDatabase, "Database_Other"},
		{"Filesystem", ErrFilesystem, "Filesystem_Other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_TriesExhausted(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "Corrupt",
			err:      fmt.Errorf("%w: %w", ErrTriesExhausted, ErrCorrupt),
			expected: "TriesExhausted_Corrupt",
		},
		{
			name:     "ServerError",
			err:      fmt.Errorf("%w: %w", ErrTriesExhausted, fmt.Errorf("%w: status 503", ErrServerHTTPError)),
			expected: "TriesExhausted_HTTPServer",
		},
		{
			name:     "Timeout",
			err:      fmt.Errorf("%w: %w", ErrTriesExhausted, errors.New("read timeout after 30s")),
			expected: "TriesExhausted_NetworkTimeout",
		},
		{
			name:     "Bare",
			err:      ErrTriesExhausted,
			expected: "TriesExhausted_Unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_IOFatal(t *testing.T) {
	permErr := fmt.Errorf("%w: %w", ErrIOFatal, &os.PathError{Op: "open", Path: "/x", Err: syscall.EACCES})
	if got := CategorizeError(permErr); got != "IOFatal_Permission" {
		t.Errorf("CategorizeError(permission) = %q, want IOFatal_Permission", got)
	}

	missingErr := fmt.Errorf("%w: %w", ErrIOFatal, &os.PathError{Op: "open", Path: "/x", Err: syscall.ENOENT})
	if got := CategorizeError(missingErr); got != "IOFatal_DirectoryNotFound" {
		t.Errorf("CategorizeError(missing dir) = %q, want IOFatal_DirectoryNotFound", got)
	}
}

func TestCategorizeError_ClientHTTPCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"403", fmt.Errorf("HTTP status 403 : %w", ErrClientHTTPError), "HTTP_403"},
		{"401", fmt.Errorf("HTTP status 401 : %w", ErrClientHTTPError), "HTTP_401"},
		{"429", fmt.Errorf("HTTP status 429 : %w", ErrClientHTTPError), "HTTP_429"},
		{"Generic4xx", fmt.Errorf("HTTP status 400: %w", ErrClientHTTPError), "HTTP_4xx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_ContextErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"ContextCanceled", context.Canceled, "System_ContextCanceled"},
		{"ContextDeadlineExceeded", context.DeadlineExceeded, "System_ContextDeadlineExceeded"},
		{"TransientWrapsDeadline", fmt.Errorf("%w: %w", ErrTransient, context.DeadlineExceeded), "System_ContextDeadlineExceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_NetworkStrings(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"Timeout", errors.New("connection timeout occurred"), "Network_TimeoutGeneric"},
		{"ConnectionRefused", errors.New("connection refused"), "Network_ConnectionRefused"},
		{"DNSLookup", errors.New("no such host"), "Network_DNSLookup"},
		{"TLS", errors.New("tls handshake failed"), "Network_TLS"},
		{"ConnectionReset", errors.New("reset by peer"), "Network_ConnectionReset"},
		{"BrokenPipe", errors.New("broken pipe"), "Network_BrokenPipe"},
		{"UnexpectedEOF", fmt.Errorf("%w: unexpected EOF", ErrTransient), "Network_UnexpectedEOF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_Unknown(t *testing.T) {
	err := errors.New("some completely unknown error")
	result := CategorizeError(err)
	if result != "Unknown" {
		t.Errorf("CategorizeError(%v) = %q, want %q", err, result, "Unknown")
	}
}

func TestPathErrorClassification(t *testing.T) {
	tooLong := &os.PathError{Op: "open", Path: "/x", Err: syscall.ENAMETOOLONG}
	if !IsPathTooLong(tooLong) {
		t.Error("IsPathTooLong(ENAMETOOLONG) = false, want true")
	}
	if IsFatalPathError(tooLong) {
		t.Error("IsFatalPathError(ENAMETOOLONG) = true, want false")
	}

	dir := t.TempDir()
	_, err := os.Create(filepath.Join(dir, "missing", "file.jpg"))
	if !IsFatalPathError(err) {
		t.Errorf("IsFatalPathError(%v) = false, want true", err)
	}
}

// --- SanitizeFilename Tests ---

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Simple", "hello", "hello"},
		{"WithSpaces", "hello world", "hello world"},
		{"WithSlash", "path/to/file", "path_to_file"},
		{"WithBackslash", "path\\to\\file", "path_to_file"},
		{"WithColon", "file:name", "file_name"},
		{"WithMultipleInvalid", "a<b>c:d", "a_b_c_d"},
		{"ConsecutiveUnderscores", "a___b", "a_b"},
		{"LeadingTrailingSpaces", "  file  ", "file"},
		{"Empty", "", "untitled"},
		{"OnlyInvalidChars", "<>:", "untitled"},
		{"NullChar", "file\x00name", "file_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSanitizeFilename_LongNames(t *testing.T) {
	result := SanitizeFilename(strings.Repeat("a", 150))
	if len(result) > 100 {
		t.Errorf("SanitizeFilename(long) length = %d, want <= 100", len(result))
	}
}

// --- UniqueFileName Tests ---

func TestUniqueFileName_Collisions(t *testing.T) {
	taken := map[string]bool{}

	first, err := UniqueFileName("/data", "photo.jpg", taken, 0)
	if err != nil {
		t.Fatalf("UniqueFileName() unexpected error: %v", err)
	}
	second, err := UniqueFileName("/data", "photo.jpg", taken, 0)
	if err != nil {
		t.Fatalf("UniqueFileName() unexpected error: %v", err)
	}
	third, err := UniqueFileName("/data", "PHOTO.jpg", taken, 0)
	if err != nil {
		t.Fatalf("UniqueFileName() unexpected error: %v", err)
	}

	if first != "photo.jpg" || second != "photo_2.jpg" || third != "PHOTO_3.jpg" {
		t.Errorf("UniqueFileName() = %q, %q, %q; want photo.jpg, photo_2.jpg, PHOTO_3.jpg", first, second, third)
	}
}

func TestUniqueFileName_ShortensOverlongPath(t *testing.T) {
	taken := map[string]bool{}
	dir := "/data/thread"
	name := strings.Repeat("b", 60) + ".png"

	got, err := UniqueFileName(dir, name, taken, 40)
	if err != nil {
		t.Fatalf("UniqueFileName() unexpected error: %v", err)
	}
	if len(dir)+1+len(got) > 40 {
		t.Errorf("path length = %d, want <= 40 (%q)", len(dir)+1+len(got), got)
	}
	if !strings.HasSuffix(got, ".png") {
		t.Errorf("UniqueFileName() = %q, want .png extension kept", got)
	}

	again, err := UniqueFileName(dir, name, taken, 40)
	if err != nil {
		t.Fatalf("UniqueFileName() unexpected error: %v", err)
	}
	if again == got || len(dir)+1+len(again) > 40 {
		t.Errorf("second UniqueFileName() = %q, want a different name within the limit", again)
	}
}

func TestUniqueFileName_NoRoom(t *testing.T) {
	_, err := UniqueFileName(strings.Repeat("d", 50), "x.jpg", map[string]bool{}, 40)
	if !errors.Is(err, ErrPathTooLong) {
		t.Errorf("UniqueFileName() error = %v, want ErrPathTooLong", err)
	}
}

// --- CompileRegexPatterns Tests ---

func TestCompileRegexPatterns_EmptyStringsSkipped(t *testing.T) {
	compiled, err := CompileRegexPatterns([]string{"valid", "", "also_valid", ""})
	if err != nil {
		t.Fatalf("CompileRegexPatterns() unexpected error: %v", err)
	}
	if len(compiled) != 2 {
		t.Errorf("CompileRegexPatterns() returned %d patterns, want 2", len(compiled))
	}
}

func TestCompileRegexPatterns_InvalidPattern(t *testing.T) {
	_, err := CompileRegexPatterns([]string{`valid`, `[invalid`})
	if err == nil {
		t.Fatal("CompileRegexPatterns() expected error for invalid pattern, got nil")
	}
	if !errors.Is(err, ErrConfigValidation) {
		t.Errorf("CompileRegexPatterns() error = %v, want wrapped ErrConfigValidation", err)
	}
}

func TestMatchAny(t *testing.T) {
	res, err := CompileRegexPatterns([]string{`\.webm$`, `/thumbs?/`})
	if err != nil {
		t.Fatalf("CompileRegexPatterns() unexpected error: %v", err)
	}
	cases := map[string]bool{
		"http://x.example/src/1.webm":  true,
		"http://x.example/thumb/1.jpg": true,
		"http://x.example/src/1.jpg":   false,
	}
	for s, want := range cases {
		if got := MatchAny(res, s); got != want {
			t.Errorf("MatchAny(%q) = %v, want %v", s, got, want)
		}
	}
	if MatchAny(nil, "anything") {
		t.Error("MatchAny(nil) should never match")
	}
}

// --- Hash Tests ---

func TestCalculateStringSHA256(t *testing.T) {
	expected := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got := CalculateStringSHA256("hello world"); got != expected {
		t.Errorf("CalculateStringSHA256() = %q, want %q", got, expected)
	}
}

func TestCalculateFileHash(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "test.txt")
	if err := os.WriteFile(tmpFile, []byte("hello world"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	sum, err := CalculateFileHash(tmpFile, md5.New())
	if err != nil {
		t.Fatalf("CalculateFileHash() unexpected error: %v", err)
	}
	if got := hex.EncodeToString(sum); got != "5eb63bbbe01eeed093cb22bb8f5acdc3" {
		t.Errorf("CalculateFileHash() = %q, want md5 of 'hello world'", got)
	}

	if _, err := CalculateFileHash("/nonexistent/path/file.txt", md5.New()); err == nil {
		t.Error("CalculateFileHash() expected error for non-existent file, got nil")
	}
}

// --- WrapErrorf Tests ---

func TestWrapErrorf(t *testing.T) {
	if WrapErrorf(nil, "some context") != nil {
		t.Error("WrapErrorf(nil, ...) should return nil")
	}

	original := errors.New("original error")
	wrapped := WrapErrorf(original, "context %s", "value")
	if !errors.Is(wrapped, original) {
		t.Error("WrapErrorf() result should wrap original error")
	}
	if wrapped.Error() != "context value: original error" {
		t.Errorf("WrapErrorf() message = %q", wrapped.Error())
	}
}
