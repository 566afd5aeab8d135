package fetch

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/thread-watcher/pkg/parse"
	"github.com/Sriram-PR/thread-watcher/pkg/utils"
)

const (
	DefaultMaxTries = 3
	chunkSize       = 32 * 1024
	backupSuffix    = ".bak"
)

// Kind tells the downloader whether it is fetching the watched page or a linked file.
type Kind int

const (
	KindPage Kind = iota
	KindFile
)

func (k Kind) String() string {
	if k == KindPage {
		return "page"
	}
	return "file"
}

// Outcome is the terminal state of one logical download.
type Outcome int

const (
	OutcomeCompleted  Outcome = iota
	OutcomeSkipped            // Nothing to do now (not modified, gone, unwritable)
	OutcomeRetryLater         // Give up for this cycle; the whole cycle should run again later
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "retry_later"
	}
}

// StopRequest asks the caller to stop the owning watch.
type StopRequest int

const (
	StopNone     StopRequest = iota
	StopNotFound             // The page is gone
	StopIOError              // The destination directory is missing or not writable
)

// ErrorKind classifies how a download ended.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorNotModified
	ErrorNotFound
	ErrorCorrupt
	ErrorStableMismatch
	ErrorIOFatal
	ErrorPathTooLong
	ErrorTriesExhausted
	ErrorAborted
)

var errorKindNames = map[ErrorKind]string{
	ErrorNone:           "none",
	ErrorNotModified:    "not_modified",
	ErrorNotFound:       "not_found",
	ErrorCorrupt:        "corrupt",
	ErrorStableMismatch: "stable_mismatch",
	ErrorIOFatal:        "io_fatal",
	ErrorPathTooLong:    "path_too_long",
	ErrorTriesExhausted: "tries_exhausted",
	ErrorAborted:        "aborted",
}

func (k ErrorKind) String() string { return errorKindNames[k] }

// Request describes one logical download.
type Request struct {
	URL             *url.URL
	Path            string // Destination file
	Kind            Kind
	UserAgent       string
	Username        string // Basic auth, sent when non-empty
	Password        string
	Referer         string
	IfModifiedSince time.Time // Pages only; zero disables the conditional request
	CorrectHash     []byte    // Files only; enables the hash check
	NewHash         func() hash.Hash
	KeepContent     bool                     // Return the body in Result.Content
	Progress        func(done, total int64) // Called after every chunk; total is -1 when unknown
}

// Result reports how a download ended. Per-resource failures are described
// here rather than returned as errors.
type Result struct {
	Outcome        Outcome
	Stop           StopRequest
	Kind           ErrorKind
	Tries          int
	Bytes          int64
	Total          int64 // Advertised size, -1 if unknown
	Content        []byte
	LastModified   time.Time
	Hash           []byte
	StableMismatch bool // Mismatch accepted because it repeated across consecutive tries
	Aborted        bool
	Err            error
}

// DownloaderOptions tunes the retry loop and timeouts.
type DownloaderOptions struct {
	MaxTries       int
	RequestTimeout time.Duration // Wait for response headers
	ReadTimeout    time.Duration // Wait for each body chunk
	DelayPerHost   time.Duration
}

// Downloader runs the fetch state machine over pooled per-host connection groups.
type Downloader struct {
	conns   *HostConnections
	limiter *RateLimiter
	opts    DownloaderOptions
	log     *logrus.Entry
}

// NewDownloader creates a Downloader. limiter may be nil to disable politeness delays.
func NewDownloader(conns *HostConnections, limiter *RateLimiter, opts DownloaderOptions, log *logrus.Entry) *Downloader {
	if opts.MaxTries <= 0 {
		opts.MaxTries = DefaultMaxTries
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	return &Downloader{conns: conns, limiter: limiter, opts: opts, log: log}
}

// signature is what an attempt leaves behind for the stability checks of the next one.
type signature struct {
	valid bool
	size  int64
	hash  []byte
}

// attemptResult is the outcome of a single try.
type attemptResult struct {
	final    *Result // Set when the download is over
	err      error   // Cause of a retry
	rotate   bool    // Retry on a fresh connection group
	verified bool    // The body arrived and failed verification; prev holds its signature
}

// Download runs req to completion. Cancelling ctx aborts any in-flight
// transfer and yields RetryLater with Aborted set.
func (d *Downloader) Download(ctx context.Context, req *Request) Result {
	host := parse.HostKey(req.URL)
	log := d.log.WithFields(logrus.Fields{"url": req.URL.String(), "host": host, "kind": req.Kind.String()})

	var prev signature
	var lastErr error
	for try := 1; try <= d.opts.MaxTries; try++ {
		if ctx.Err() != nil {
			return abortedResult(try-1, ctx.Err())
		}

		group, err := d.conns.Obtain(ctx, host)
		if err != nil {
			return abortedResult(try-1, err)
		}

		tryLog := log.WithFields(logrus.Fields{"try": try, "group": group.ID})
		ar := d.attempt(ctx, group, req, &prev, tryLog)
		if ar.rotate {
			group = d.conns.Rotate(group)
		}
		d.conns.Release(group)

		if ar.final != nil {
			ar.final.Tries = try
			return *ar.final
		}
		if !ar.verified {
			// Only back-to-back verified bodies may confirm each other.
			prev = signature{}
		}
		lastErr = ar.err
		tryLog.Warnf("Download attempt failed: %v", ar.err)
	}

	log.Errorf("Giving up after %d tries: %v", d.opts.MaxTries, lastErr)
	return Result{
		Outcome: OutcomeRetryLater,
		Kind:    ErrorTriesExhausted,
		Tries:   d.opts.MaxTries,
		Total:   -1,
		Err:     fmt.Errorf("%w: %w", utils.ErrTriesExhausted, lastErr),
	}
}

func abortedResult(tries int, cause error) Result {
	return Result{
		Outcome: OutcomeRetryLater,
		Kind:    ErrorAborted,
		Tries:   tries,
		Total:   -1,
		Aborted: true,
		Err:     fmt.Errorf("%w: %w", utils.ErrAborted, cause),
	}
}

func (d *Downloader) attempt(ctx context.Context, group *ConnectionGroup, req *Request, prev *signature, log *logrus.Entry) attemptResult {
	host := parse.HostKey(req.URL)

	// --- Requesting ---
	if d.limiter != nil {
		if err := d.limiter.ApplyDelay(ctx, host, d.opts.DelayPerHost); err != nil {
			r := abortedResult(0, err)
			return attemptResult{final: &r}
		}
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var timedOut atomic.Bool
	watchdog := time.AfterFunc(d.opts.RequestTimeout, func() {
		timedOut.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, req.URL.String(), nil)
	if err != nil {
		return attemptResult{err: fmt.Errorf("%w: %w: %w", utils.ErrTransient, utils.ErrRequestCreation, err)}
	}
	if req.UserAgent != "" {
		httpReq.Header.Set("User-Agent", req.UserAgent)
	}
	if req.Username != "" {
		httpReq.SetBasicAuth(req.Username, req.Password)
	}
	if req.Referer != "" {
		httpReq.Header.Set("Referer", req.Referer)
	}
	if req.Kind == KindPage && !req.IfModifiedSince.IsZero() {
		httpReq.Header.Set("If-Modified-Since", req.IfModifiedSince.UTC().Format(http.TimeFormat))
	}

	resp, err := group.Client().Do(httpReq)
	if d.limiter != nil {
		d.limiter.UpdateLastRequestTime(host)
	}
	if err != nil {
		if ctx.Err() != nil {
			r := abortedResult(0, ctx.Err())
			return attemptResult{final: &r}
		}
		if timedOut.Load() {
			err = fmt.Errorf("response header timeout after %v: %w", d.opts.RequestTimeout, err)
		}
		return attemptResult{err: fmt.Errorf("%w: %w", utils.ErrTransient, err), rotate: true}
	}
	defer resp.Body.Close()

	statusLog := log.WithField("status_code", resp.StatusCode)
	switch {
	case resp.StatusCode == http.StatusNotModified:
		statusLog.Debug("Not modified")
		return attemptResult{final: &Result{Outcome: OutcomeSkipped, Kind: ErrorNotModified, Total: -1, Err: utils.ErrNotModified}}
	case resp.StatusCode == http.StatusNotFound:
		statusLog.Info("Not found")
		r := Result{Outcome: OutcomeSkipped, Kind: ErrorNotFound, Total: -1, Err: utils.ErrNotFound}
		if req.Kind == KindPage {
			r.Stop = StopNotFound
		}
		return attemptResult{final: &r}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		io.Copy(io.Discard, io.LimitReader(resp.Body, chunkSize))
		return attemptResult{err: statusError(resp), rotate: true}
	}

	// --- Streaming ---
	total := resp.ContentLength
	file, backup, err := d.openDestination(req)
	if err != nil {
		log.Warnf("Cannot open destination '%s': %v", req.Path, err)
		if res := pathErrorResult(req.Path, err); res != nil {
			return attemptResult{final: res}
		}
		return attemptResult{err: fmt.Errorf("%w: %w: '%s': %w", utils.ErrTransient, utils.ErrFilesystem, req.Path, err)}
	}

	var h hash.Hash
	if req.Kind == KindFile {
		if req.NewHash != nil {
			h = req.NewHash()
		} else {
			h = md5.New()
		}
	}
	var content *bytes.Buffer
	if req.KeepContent {
		content = &bytes.Buffer{}
	}

	written, streamErr := d.stream(resp.Body, file, h, content, total, req.Progress, watchdog)
	if closeErr := file.Close(); closeErr != nil && streamErr == nil {
		streamErr = &writeError{closeErr}
	}

	if streamErr != nil {
		cleanup(req.Path, backup, log)
		if ctx.Err() != nil {
			r := abortedResult(0, ctx.Err())
			r.Bytes = written
			return attemptResult{final: &r}
		}
		var we *writeError
		if errors.As(streamErr, &we) {
			return attemptResult{err: fmt.Errorf("%w: writing '%s': %w", utils.ErrTransient, req.Path, we.err)}
		}
		if timedOut.Load() {
			streamErr = fmt.Errorf("read timeout after %v: %w", d.opts.ReadTimeout, streamErr)
		}
		return attemptResult{err: fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, fmt.Errorf("%w: %w", utils.ErrTransient, streamErr)), rotate: true}
	}

	// --- Verifying ---
	var sum []byte
	if h != nil {
		sum = h.Sum(nil)
	}
	sizeMismatch := total >= 0 && written != total
	hashMismatch := req.Kind == KindFile && req.CorrectHash != nil && !bytes.Equal(sum, req.CorrectHash)
	sizeUnstable := sizeMismatch && !(prev.valid && written == prev.size)
	hashUnstable := hashMismatch && !(prev.valid && bytes.Equal(sum, prev.hash))

	if sizeUnstable || hashUnstable {
		*prev = signature{valid: true, size: written, hash: sum}
		cleanup(req.Path, backup, log)
		return attemptResult{err: fmt.Errorf("%w: got %d of %d bytes (hash mismatch: %v)", utils.ErrCorrupt, written, total, hashMismatch), verified: true}
	}

	if backup != "" {
		if err := os.Remove(backup); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warnf("Failed to remove backup '%s': %v", backup, err)
		}
	}

	r := Result{
		Outcome: OutcomeCompleted,
		Bytes:   written,
		Total:   total,
		Hash:    sum,
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			r.LastModified = t
		}
	}
	if content != nil {
		r.Content = content.Bytes()
	}
	if sizeMismatch || hashMismatch {
		r.StableMismatch = true
		r.Kind = ErrorStableMismatch
		log.WithFields(logrus.Fields{"bytes": written, "total": total, "hash_mismatch": hashMismatch}).
			Warn("Accepting download whose mismatch repeated across consecutive tries")
	}
	return attemptResult{final: &r}
}

// openDestination creates the destination file. Pages first move an existing
// copy aside so a failed transfer can restore it.
func (d *Downloader) openDestination(req *Request) (*os.File, string, error) {
	backup := ""
	if req.Kind == KindPage {
		if _, err := os.Stat(req.Path); err == nil {
			backup = req.Path + backupSuffix
			if err := os.Rename(req.Path, backup); err != nil {
				return nil, "", err
			}
		}
	}

	file, err := os.Create(req.Path)
	if err != nil {
		if backup != "" {
			os.Rename(backup, req.Path)
		}
		return nil, "", err
	}
	return file, backup, nil
}

// pathErrorResult ends the download for destination errors a retry cannot
// fix. It returns nil for anything else, which is retried like a write error.
func pathErrorResult(path string, err error) *Result {
	switch {
	case utils.IsPathTooLong(err):
		return &Result{Outcome: OutcomeSkipped, Kind: ErrorPathTooLong, Total: -1,
			Err: fmt.Errorf("%w: '%s': %w", utils.ErrPathTooLong, path, err)}
	case utils.IsFatalPathError(err):
		return &Result{Outcome: OutcomeSkipped, Stop: StopIOError, Kind: ErrorIOFatal, Total: -1,
			Err: fmt.Errorf("%w: '%s': %w", utils.ErrIOFatal, path, err)}
	default:
		return nil
	}
}

// writeError marks a failure on the local side of the stream.
type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

// stream copies body to file chunk by chunk, mirroring it into h and content.
// The watchdog is re-armed before every read so a stalled body times out.
// A body that ends before its advertised length is not an error here; the
// size check decides what to do with it.
func (d *Downloader) stream(body io.Reader, file *os.File, h hash.Hash, content *bytes.Buffer, total int64, progress func(int64, int64), watchdog *time.Timer) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		watchdog.Reset(d.opts.ReadTimeout)
		n, readErr := body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, err := file.Write(chunk); err != nil {
				return written, &writeError{err}
			}
			if h != nil {
				h.Write(chunk)
			}
			if content != nil {
				content.Write(chunk)
			}
			written += int64(n)
			if progress != nil {
				progress(written, total)
			}
		}
		if readErr == io.EOF || errors.Is(readErr, io.ErrUnexpectedEOF) {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// cleanup removes a partial file and puts the page backup back in place.
func cleanup(path, backup string, log *logrus.Entry) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("Failed to remove partial file '%s': %v", path, err)
	}
	if backup != "" {
		if err := os.Rename(backup, path); err != nil {
			log.Errorf("Failed to restore backup '%s': %v", backup, err)
		}
	}
}

func statusError(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 500:
		return fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, code, resp.Status)
	case code >= 400:
		return fmt.Errorf("HTTP status %d : %w", code, utils.ErrClientHTTPError)
	default:
		return fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, code, resp.Status)
	}
}
