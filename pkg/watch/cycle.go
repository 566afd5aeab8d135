package watch

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"github.com/Sriram-PR/thread-watcher/pkg/extract"
	"github.com/Sriram-PR/thread-watcher/pkg/fetch"
	"github.com/Sriram-PR/thread-watcher/pkg/markup"
	"github.com/Sriram-PR/thread-watcher/pkg/models"
	"github.com/Sriram-PR/thread-watcher/pkg/parse"
	"github.com/Sriram-PR/thread-watcher/pkg/status"
	"github.com/Sriram-PR/thread-watcher/pkg/utils"
)

const (
	maxPagesPerCycle = 100
	resourceLogName  = "resources.tsv"
	pageFilePrefix   = "thread"
)

// pageCache is the last successful extraction of one page. A 304 reuses it.
type pageCache struct {
	url          *url.URL
	key          string
	file         string // Relative to the watch directory
	text         string // Normalized markup the spans refer to
	result       *extract.Result
	lastModified time.Time
}

// cycleOutcome is how a cycle ended.
type cycleOutcome struct {
	retryLater   bool
	aborted      bool
	stop         models.StopReason
	message      string
	pages        int
	lastModified time.Time
}

// resourceJob is one pending download.
type resourceJob struct {
	res extract.Resource
	rel string
}

func pageFileName(i int) string {
	if i == 0 {
		return pageFilePrefix + ".html"
	}
	return fmt.Sprintf("%s_%d.html", pageFilePrefix, i+1)
}

// newWatchNamer creates the resource namer of a watch with the engine's own
// files already reserved.
func newWatchNamer(dir string, maxPathLen int) *extract.Namer {
	n := extract.NewNamer(dir, maxPathLen)
	n.Reserve("\x00log", resourceLogName)
	for i := 0; i < maxPagesPerCycle; i++ {
		n.Reserve(fmt.Sprintf("\x00page%d", i), pageFileName(i))
	}
	return n
}

func hostGroup(u *url.URL) string {
	return "host:" + parse.HostKey(u)
}

// runCycle is the scheduled action of a watch.
func (e *Engine) runCycle(ws *watchState) {
	e.mu.Lock()
	if e.closed || ws.rec.Stopped() || e.watches[ws.rec.ID] != ws {
		e.mu.Unlock()
		return
	}
	if ws.running {
		// Resumed while the previous cycle is still winding down.
		ws.rerun = true
		e.mu.Unlock()
		return
	}
	ws.running = true
	e.cycles.Add(1)
	rec := *ws.rec
	ctx := ws.ctx
	e.mu.Unlock()

	log := e.log.WithFields(logrus.Fields{"watch_id": rec.ID, "url": rec.URL})
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("PANIC in watch cycle: %v\n%s", r, debug.Stack())
			e.stopWatch(ws, models.StopReasonOther, fmt.Sprintf("panic: %v", r))
			e.mu.Lock()
			ws.running = false
			ws.rerun = false
			e.mu.Unlock()
		}
		e.cycles.Done()
	}()

	e.broker.Publish(status.Event{Kind: status.EventCycleStarted, WatchID: rec.ID, URL: rec.URL})
	out := e.cycle(ctx, ws, &rec, log)
	e.finishCycle(ws, out, log)
}

func (e *Engine) cycle(ctx context.Context, ws *watchState, rec *models.WatchRecord, log *logrus.Entry) cycleOutcome {
	if err := ensureDir(rec.Dir); err != nil {
		return cycleOutcome{stop: models.StopReasonIOError, message: err.Error()}
	}

	pages, out := e.fetchPages(ctx, ws, rec, log)
	if out.stop != models.StopReasonNone || out.aborted {
		return out
	}
	if len(pages) == 0 {
		out.retryLater = true
		return out
	}
	out.pages = len(pages)
	out.lastModified = pages[0].lastModified

	local, retry, stop := e.downloadResources(ctx, ws, rec, pages, log)
	if ctx.Err() != nil {
		out.aborted = true
		return out
	}
	out.retryLater = out.retryLater || retry
	if stop != models.StopReasonNone {
		out.stop = stop
		out.message = "destination directory is not writable"
		return out
	}

	e.writePages(rec, pages, local, log)
	if err := e.store.WriteResourceLog(ctx, rec.ID, filepath.Join(rec.Dir, resourceLogName)); err != nil {
		log.Warnf("Writing resource log failed: %v", err)
	}
	return out
}

// fetchPages walks the thread's pages. It stops early on the first page that
// cannot be fetched now; pages after a vanished continuation are ignored.
func (e *Engine) fetchPages(ctx context.Context, ws *watchState, rec *models.WatchRecord, log *logrus.Entry) ([]*pageCache, cycleOutcome) {
	var out cycleOutcome
	var pages []*pageCache
	visited := make(map[string]bool)

	next, err := url.Parse(rec.URL)
	if err != nil {
		return nil, cycleOutcome{stop: models.StopReasonOther, message: err.Error()}
	}
	for i := 0; next != nil && i < maxPagesPerCycle; i++ {
		key := parse.NormalizeURL(next)
		if visited[key] {
			break
		}
		visited[key] = true
		pageLog := log.WithFields(logrus.Fields{"page": i + 1, "page_url": next.String()})

		if rec.RespectRobots && !e.robots.Allowed(ctx, next, rec.UserAgent) {
			if i == 0 {
				return nil, cycleOutcome{stop: models.StopReasonRobots, message: utils.ErrRobotsDisallowed.Error()}
			}
			pageLog.Info("Next page disallowed by robots.txt, not following")
			break
		}

		cached := ws.pages[key]
		req := &fetch.Request{
			URL:         next,
			Path:        filepath.Join(rec.Dir, pageFileName(i)),
			Kind:        fetch.KindPage,
			UserAgent:   rec.UserAgent,
			Username:    rec.Username,
			Password:    rec.Password,
			Referer:     rec.Referer,
			KeepContent: true,
		}
		if cached != nil {
			req.IfModifiedSince = cached.lastModified
		}
		res := e.downloader.Download(ctx, req)

		switch {
		case res.Aborted:
			return nil, cycleOutcome{aborted: true}
		case res.Stop == fetch.StopNotFound:
			if i == 0 {
				return nil, cycleOutcome{stop: models.StopReasonNotFound, message: "thread is gone"}
			}
			pageLog.Info("Continuation page is gone")
			delete(ws.pages, key)
			return pages, out
		case res.Stop == fetch.StopIOError:
			return nil, cycleOutcome{stop: models.StopReasonIOError, message: res.Err.Error()}
		case res.Kind == fetch.ErrorNotModified && cached != nil:
			pageLog.Debug("Page not modified, reusing previous extraction")
			pages = append(pages, cached)
		case res.Outcome == fetch.OutcomeCompleted:
			text := markup.Normalize(string(res.Content))
			result, err := ws.extractor.Extract(ctx, text, next)
			if err != nil {
				if ctx.Err() != nil {
					return nil, cycleOutcome{aborted: true}
				}
				pageLog.Errorf("Extraction failed: %v", err)
				out.retryLater = true
				return pages, out
			}
			pc := &pageCache{url: next, key: key, file: pageFileName(i), text: text, result: result, lastModified: res.LastModified}
			ws.pages[key] = pc
			pages = append(pages, pc)
			e.broker.Publish(status.Event{Kind: status.EventPageFetched, WatchID: rec.ID, URL: next.String(), Bytes: res.Bytes})
		default:
			pageLog.Warnf("Page not retrieved (%s): %v", res.Outcome, res.Err)
			out.retryLater = true
			return pages, out
		}
		next = pages[len(pages)-1].result.NextPage
	}
	return pages, out
}

// downloadResources fans the pending resources out to per-host pool groups and
// waits for all of them. It returns the local paths of completed resources.
func (e *Engine) downloadResources(ctx context.Context, ws *watchState, rec *models.WatchRecord, pages []*pageCache, log *logrus.Entry) (map[string]string, bool, models.StopReason) {
	var resources []extract.Resource
	seen := make(map[string]bool)
	for _, pc := range pages {
		for _, r := range pc.result.Resources {
			if seen[r.Key] || e.skipped(ws, rec, r) {
				continue
			}
			seen[r.Key] = true
			resources = append(resources, r)
		}
	}

	local := make(map[string]string)
	var pending []extract.Resource
	for _, r := range resources {
		st, stored, err := e.store.CheckResourceStatus(rec.ID, r.Key)
		if err != nil {
			log.WithField("resource", r.Key).Warnf("Status lookup failed, downloading again: %v", err)
		}
		if stored != nil && stored.LocalPath != "" {
			ws.namer.Reserve(r.Key, stored.LocalPath)
		}
		if st.IsDone() {
			if st == models.ResourceStatusCompleted && stored != nil {
				local[r.Key] = stored.LocalPath
			}
			continue
		}
		pending = append(pending, r)
	}

	var jobs []resourceJob
	needThumbDir := false
	for _, r := range pending {
		rel, err := ws.namer.Assign(r)
		if err != nil {
			log.WithField("resource", r.Key).Warnf("No usable file name: %v", err)
			e.recordResource(rec, r, "", fetch.Result{Outcome: fetch.OutcomeSkipped, Kind: fetch.ErrorPathTooLong, Err: err}, models.ResourceStatusSkipped)
			continue
		}
		if r.Kind == models.ResourceKindThumbnail {
			needThumbDir = true
		}
		jobs = append(jobs, resourceJob{res: r, rel: rel})
	}
	if len(jobs) == 0 {
		return local, false, models.StopReasonNone
	}
	if needThumbDir {
		if err := ensureDir(filepath.Join(rec.Dir, extract.ThumbnailDir)); err != nil {
			return local, false, models.StopReasonIOError
		}
	}
	log.Infof("Downloading %d of %d resources", len(jobs), len(resources))

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		retry bool
		stop  = models.StopReasonNone
	)
	for _, job := range jobs {
		wg.Add(1)
		err := e.pools.Submit(hostGroup(job.res.URL), func() {
			defer wg.Done()
			st, res := e.downloadResource(ctx, rec, job)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case res.Aborted:
			case st == models.ResourceStatusCompleted:
				local[job.res.Key] = job.rel
			case res.Stop == fetch.StopIOError:
				stop = models.StopReasonIOError
			case res.Outcome == fetch.OutcomeRetryLater:
				retry = true
			}
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			retry = true
			mu.Unlock()
		}
	}
	wg.Wait()
	return local, retry, stop
}

func (e *Engine) skipped(ws *watchState, rec *models.WatchRecord, r extract.Resource) bool {
	if rec.SkipThumbnails && r.Kind == models.ResourceKindThumbnail {
		return true
	}
	return utils.MatchAny(ws.skip, r.URL.String())
}

func (e *Engine) downloadResource(ctx context.Context, rec *models.WatchRecord, job resourceJob) (models.ResourceStatus, fetch.Result) {
	path := filepath.Join(rec.Dir, job.rel)
	if res, ok := verifiedOnDisk(path, job.res.MD5); ok {
		e.recordResource(rec, job.res, job.rel, res, models.ResourceStatusCompleted)
		return models.ResourceStatusCompleted, res
	}

	referer := rec.Referer
	if referer == "" {
		referer = rec.URL
	}
	res := e.downloader.Download(ctx, &fetch.Request{
		URL:         job.res.URL,
		Path:        path,
		Kind:        fetch.KindFile,
		UserAgent:   rec.UserAgent,
		Username:    rec.Username,
		Password:    rec.Password,
		Referer:     referer,
		CorrectHash: job.res.MD5,
	})
	if res.Aborted {
		return models.ResourceStatusPending, res
	}

	var st models.ResourceStatus
	switch {
	case res.Outcome == fetch.OutcomeCompleted:
		st = models.ResourceStatusCompleted
	case res.Kind == fetch.ErrorNotFound:
		st = models.ResourceStatusNotFound
	case res.Kind == fetch.ErrorPathTooLong:
		st = models.ResourceStatusSkipped
	default:
		st = models.ResourceStatusFailed
	}
	e.recordResource(rec, job.res, job.rel, res, st)
	return st, res
}

// verifiedOnDisk reports whether path already holds a file matching the
// advertised MD5, as left behind by a transfer whose status was never recorded.
func verifiedOnDisk(path string, want []byte) (fetch.Result, bool) {
	if len(want) == 0 {
		return fetch.Result{}, false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return fetch.Result{}, false
	}
	sum, err := utils.CalculateFileHash(path, md5.New())
	if err != nil || !bytes.Equal(sum, want) {
		return fetch.Result{}, false
	}
	return fetch.Result{Outcome: fetch.OutcomeCompleted, Bytes: info.Size(), Total: info.Size(), Hash: sum}, true
}

func (e *Engine) recordResource(rec *models.WatchRecord, r extract.Resource, rel string, res fetch.Result, st models.ResourceStatus) {
	rr := &models.ResourceRecord{
		Status:      st,
		Kind:        r.Kind,
		URL:         r.URL.String(),
		LocalPath:   rel,
		Bytes:       res.Bytes,
		Tries:       res.Tries,
		Accepted:    res.StableMismatch,
		LastAttempt: time.Now(),
	}
	if st != models.ResourceStatusCompleted && res.Err != nil {
		rr.ErrorType = utils.CategorizeError(res.Err)
	}
	if err := e.store.UpdateResourceStatus(rec.ID, r.Key, rr); err != nil {
		e.log.WithFields(logrus.Fields{"watch_id": rec.ID, "resource": r.Key}).Errorf("Recording resource failed: %v", err)
	}
	e.broker.Publish(status.Event{Kind: status.EventResourceDone, WatchID: rec.ID, URL: rr.URL, Status: st, Bytes: rr.Bytes})
}

// writePages rewrites every fetched page so links point at the local copies
// that exist, and pagination links at the local page files.
func (e *Engine) writePages(rec *models.WatchRecord, pages []*pageCache, local map[string]string, log *logrus.Entry) {
	pageFiles := make(map[string]string, len(pages))
	for _, pc := range pages {
		pageFiles[pc.key] = pc.file
	}
	resolve := func(sp markup.ReplaceSpan) (string, bool) {
		var rel string
		var ok bool
		switch sp.Kind {
		case markup.SpanResource:
			rel, ok = local[sp.Key]
		case markup.SpanPage:
			rel, ok = pageFiles[sp.Key]
		}
		if !ok || rel == "" {
			return "", false
		}
		return html.EscapeString(filepath.ToSlash(rel)), true
	}

	for _, pc := range pages {
		out := markup.ApplySpans(pc.text, pc.result.Spans, resolve)
		if err := writeFileAtomic(filepath.Join(rec.Dir, pc.file), []byte(out)); err != nil {
			log.WithField("page_file", pc.file).Errorf("Writing rewritten page failed: %v", err)
		}
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	return nil
}

// finishCycle persists the cycle's results and schedules the next one. A
// cycle that was asked to run again while in flight is rescheduled for now,
// even when it was aborted by a stop that has since been undone.
func (e *Engine) finishCycle(ws *watchState, out cycleOutcome, log *logrus.Entry) {
	if out.stop != models.StopReasonNone {
		e.stopWatch(ws, out.stop, out.message)
	}

	e.mu.Lock()
	ws.running = false
	rerun := ws.rerun
	ws.rerun = false
	completed := out.stop == models.StopReasonNone && !out.aborted
	if e.closed || ws.rec.Stopped() || e.watches[ws.rec.ID] != ws || (!completed && !rerun) {
		e.mu.Unlock()
		if out.aborted {
			log.Debug("Cycle aborted")
		}
		return
	}

	now := time.Now()
	var delay time.Duration
	if completed {
		ws.rec.LastChecked = now
		if out.pages > 0 {
			ws.rec.PageCount = out.pages
		}
		if !out.lastModified.IsZero() {
			ws.rec.LastModified = out.lastModified
		}
		delay = ws.rec.Interval
		if delay <= 0 {
			delay = e.cfg.CheckInterval
		}
		if out.retryLater {
			delay = e.cfg.RetryDelay
		}
	}
	if rerun {
		delay = 0
	}
	e.scheduleLocked(ws, now.Add(delay))
	if err := e.store.PutWatch(ws.rec); err != nil {
		log.Errorf("Persisting watch failed: %v", err)
	}
	id, next := ws.rec.ID, ws.rec.NextCheck
	e.mu.Unlock()

	if completed {
		counts, err := e.store.CountResources(id)
		if err != nil {
			log.Warnf("Counting resources failed: %v", err)
		}
		log.WithFields(logrus.Fields{
			"completed": counts.Completed, "failed": counts.Failed, "retry_later": out.retryLater,
		}).Infof("Cycle finished, next check in %s", FormatInterval(delay))
		e.broker.Publish(status.Event{Kind: status.EventCycleFinished, WatchID: id, Counts: counts})
	} else {
		log.Info("Cycle aborted, checking again now")
	}
	e.broker.Publish(status.Event{Kind: status.EventWaitUntil, WatchID: id, NextCheck: next})
}

func sortStatuses(s []WatchStatus) {
	sort.Slice(s, func(i, j int) bool { return s[i].Watch.AddedAt.Before(s[j].Watch.AddedAt) })
}
