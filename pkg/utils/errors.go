package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrNotModified      = errors.New("resource not modified")                // Conditional fetch confirmed no change
	ErrNotFound         = errors.New("resource not found (404)")             // Resource is gone
	ErrCorrupt          = errors.New("transfer incomplete or corrupt")       // Size/hash mismatch that changed between tries
	ErrTransient        = errors.New("transient transfer error")             // Wraps the underlying network/timeout error
	ErrIOFatal          = errors.New("destination path invalid or inaccessible")
	ErrPathTooLong      = errors.New("destination path too long")
	ErrTriesExhausted   = errors.New("download failed after all tries") // Wraps the last underlying error
	ErrAborted          = errors.New("download aborted")
	ErrClientHTTPError  = errors.New("client HTTP error (4xx)")
	ErrServerHTTPError  = errors.New("server HTTP error (5xx)")
	ErrOtherHTTPError   = errors.New("other HTTP error (non-2xx)")
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	ErrParsing          = errors.New("parsing error")    // Wraps specific parsing error (HTML, URL)
	ErrFilesystem       = errors.New("filesystem error") // Wraps os errors
	ErrDatabase         = errors.New("database error")   // Wraps badger errors
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrConfigValidation = errors.New("configuration validation error")
)

// WrapErrorf wraps err with a formatted message. Returns nil if err is nil.
func WrapErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// IsPathTooLong reports whether err was caused by an overlong file name or path.
func IsPathTooLong(err error) bool {
	return errors.Is(err, syscall.ENAMETOOLONG)
}

// IsFatalPathError reports whether err means the destination directory cannot be
// written at all (missing directory, not a directory, permission denied).
func IsFatalPathError(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrPermission) ||
		errors.Is(err, syscall.ENOTDIR) ||
		errors.Is(err, syscall.EROFS)
}

// CategorizeError maps an error to a predefined category string for logging and the store.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrAborted):
		return "Download_Aborted"
	case errors.Is(err, ErrTriesExhausted):
		// The cause is joined with %w alongside the sentinel, so check the chain directly
		if errors.Is(err, ErrCorrupt) {
			return "TriesExhausted_Corrupt"
		}
		if errors.Is(err, ErrServerHTTPError) {
			return "TriesExhausted_HTTPServer"
		}
		if errors.Is(err, ErrClientHTTPError) {
			return "TriesExhausted_HTTPClient"
		}
		if err == ErrTriesExhausted {
			return "TriesExhausted_Unknown"
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "TriesExhausted_NetworkTimeout"
		}
		errMsg := strings.ToLower(err.Error())
		if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded") {
			return "TriesExhausted_NetworkTimeout"
		}
		return "TriesExhausted_NetworkOther"
	case errors.Is(err, ErrNotModified):
		return "HTTP_304"
	case errors.Is(err, ErrNotFound):
		return "HTTP_404"
	case errors.Is(err, ErrCorrupt):
		return "Transfer_Corrupt"
	case errors.Is(err, ErrPathTooLong):
		return "Filesystem_PathTooLong"
	case errors.Is(err, ErrIOFatal):
		if errors.Is(err, os.ErrPermission) {
			return "IOFatal_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "IOFatal_DirectoryNotFound"
		}
		return "IOFatal_Other"
	case errors.Is(err, ErrClientHTTPError):
		errMsg := err.Error()
		if strings.Contains(errMsg, " 403 ") {
			return "HTTP_403"
		}
		if strings.Contains(errMsg, " 401 ") {
			return "HTTP_401"
		}
		if strings.Contains(errMsg, " 429 ") {
			return "HTTP_429"
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, ErrTransient):
		// Fall through to the network checks below using the wrapped cause
	}

	// --- Fallback checks for common underlying error types/strings ---

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	if strings.Contains(lowerErrMsg, "timeout") {
		return "Network_TimeoutGeneric"
	}
	if strings.Contains(lowerErrMsg, "connection refused") {
		return "Network_ConnectionRefused"
	}
	if strings.Contains(lowerErrMsg, "no such host") {
		return "Network_DNSLookup"
	}
	if strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate") {
		return "Network_TLS"
	}
	if strings.Contains(lowerErrMsg, "reset by peer") {
		return "Network_ConnectionReset"
	}
	if strings.Contains(lowerErrMsg, "broken pipe") {
		return "Network_BrokenPipe"
	}
	if strings.Contains(lowerErrMsg, "unexpected eof") {
		return "Network_UnexpectedEOF"
	}

	return "Unknown"
}
