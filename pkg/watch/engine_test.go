package watch

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/thread-watcher/pkg/config"
	"github.com/Sriram-PR/thread-watcher/pkg/extract"
	"github.com/Sriram-PR/thread-watcher/pkg/models"
	"github.com/Sriram-PR/thread-watcher/pkg/status"
	"github.com/Sriram-PR/thread-watcher/pkg/storage"
	"github.com/Sriram-PR/thread-watcher/pkg/utils"
)

const lastModified = "Mon, 02 Jan 2006 15:04:05 GMT"

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testConfig(t *testing.T) config.AppConfig {
	return config.AppConfig{
		UserAgent:             "thread-watcher-test",
		DownloadDir:           t.TempDir(),
		CheckInterval:         time.Hour,
		RetryDelay:            2 * time.Hour,
		MaxTries:              2,
		MaxConnectionsPerHost: 4,
		HostEvictionInterval:  time.Minute,
		PoolMinWorkers:        2,
		PoolThreshold:         50 * time.Millisecond,
		PoolIdleTimeout:       time.Second,
		SchedulerIdleTimeout:  time.Second,
		RequestTimeout:        5 * time.Second,
		ReadTimeout:           5 * time.Second,
		StatusBuffer:          512,
	}
}

// boardServer serves thread pages and the files they link to.
type boardServer struct {
	*httptest.Server
	mu     sync.Mutex
	pages  map[string]string // path -> markup
	status map[string]int    // path -> forced status code
	block  map[string]bool   // path -> hang until the client goes away
	hits   map[string]int
}

func newBoardServer(t *testing.T) *boardServer {
	t.Helper()
	b := &boardServer{
		pages:  make(map[string]string),
		status: make(map[string]int),
		block:  make(map[string]bool),
		hits:   make(map[string]int),
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.Close)
	return b
}

func (b *boardServer) serve(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.hits[r.URL.Path]++
	page, isPage := b.pages[r.URL.Path]
	code := b.status[r.URL.Path]
	block := b.block[r.URL.Path]
	b.mu.Unlock()

	switch {
	case code != 0:
		w.WriteHeader(code)
	case block:
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	case isPage:
		if r.Header.Get("If-Modified-Since") != "" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Last-Modified", lastModified)
		io.WriteString(w, page)
	case strings.HasPrefix(r.URL.Path, "/src/"), strings.HasPrefix(r.URL.Path, "/thumb/"):
		io.WriteString(w, "bytes of "+r.URL.Path)
	default:
		http.NotFound(w, r)
	}
}

func (b *boardServer) setPage(path, markup string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages[path] = markup
}

func (b *boardServer) setStatus(path string, code int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status[path] = code
}

func (b *boardServer) setBlock(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.block[path] = true
}

func (b *boardServer) hitCount(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

const threadMarkup = `<html><head><title>thread</title></head><body>
<a href="/src/a.jpg"><img src="/thumb/a_s.jpg"></a>
<a href="/src/b.png"><img src="/thumb/b_s.png"></a>
</body></html>`

func newTestStore(t *testing.T) *storage.BadgerStore {
	t.Helper()
	store, err := storage.NewBadgerStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestEngine(t *testing.T, cfg config.AppConfig, store storage.Store, registry *extract.Registry) *Engine {
	t.Helper()
	e := NewEngine(cfg, store, registry, nil, testLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.Shutdown(ctx)
	})
	return e
}

func waitEvent(t *testing.T, sub *status.Subscription, watchID string, kind status.EventKind) status.Event {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C:
			require.True(t, ok, "subscription closed while waiting for %s", kind)
			if ev.WatchID == watchID && ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
			return status.Event{}
		}
	}
}

func statusOf(t *testing.T, e *Engine, id string) WatchStatus {
	t.Helper()
	for _, ws := range e.Snapshot() {
		if ws.Watch.ID == id {
			return ws
		}
	}
	t.Fatalf("watch %s not in snapshot", id)
	return WatchStatus{}
}

func TestEngine_FullCycle(t *testing.T) {
	board := newBoardServer(t)
	board.setPage("/thread/1", threadMarkup)

	e := newTestEngine(t, testConfig(t), newTestStore(t), nil)
	sub := e.Subscribe()
	require.NoError(t, e.Start())

	rec, err := e.Add(config.WatchConfig{URL: board.URL + "/thread/1"})
	require.NoError(t, err)

	finished := waitEvent(t, sub, rec.ID, status.EventCycleFinished)
	assert.Equal(t, 4, finished.Counts.Completed)
	wait := waitEvent(t, sub, rec.ID, status.EventWaitUntil)
	assert.WithinDuration(t, time.Now().Add(time.Hour), wait.NextCheck, time.Minute)

	for _, rel := range []string{"a.jpg", "b.png", filepath.Join(extract.ThumbnailDir, "a_s.jpg"), filepath.Join(extract.ThumbnailDir, "b_s.png")} {
		assert.FileExists(t, filepath.Join(rec.Dir, rel))
	}
	data, err := os.ReadFile(filepath.Join(rec.Dir, "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "bytes of /src/a.jpg", string(data))

	page, err := os.ReadFile(filepath.Join(rec.Dir, "thread.html"))
	require.NoError(t, err)
	assert.Contains(t, string(page), `<a href="a.jpg"><img src="thumbs/a_s.jpg"></a>`)
	assert.FileExists(t, filepath.Join(rec.Dir, resourceLogName))

	st := statusOf(t, e, rec.ID)
	assert.False(t, st.Watch.LastChecked.IsZero())
	assert.Equal(t, 1, st.Watch.PageCount)
	assert.Equal(t, 4, st.Counts.Completed)

	// A second check gets a 304 and downloads nothing new.
	require.NoError(t, e.CheckNow(rec.ID))
	waitEvent(t, sub, rec.ID, status.EventCycleFinished)
	assert.Equal(t, 2, board.hitCount("/thread/1"))
	assert.Equal(t, 1, board.hitCount("/src/a.jpg"))
	assert.Equal(t, 1, board.hitCount("/thumb/b_s.png"))
}

func TestEngine_NewResourcesOnChangedPage(t *testing.T) {
	board := newBoardServer(t)
	board.setPage("/thread/1", `<a href="/src/a.jpg">a</a>`)

	e := newTestEngine(t, testConfig(t), newTestStore(t), nil)
	require.NoError(t, e.Start())
	sub := e.Subscribe()
	rec, err := e.Add(config.WatchConfig{URL: board.URL + "/thread/1"})
	require.NoError(t, err)
	waitEvent(t, sub, rec.ID, status.EventCycleFinished)

	// Forget the cached extraction so the page is fetched in full.
	e.mu.Lock()
	e.watches[rec.ID].pages = make(map[string]*pageCache)
	e.mu.Unlock()
	board.setPage("/thread/1", `<a href="/src/a.jpg">a</a><a href="/src/c.gif">c</a>`)

	require.NoError(t, e.CheckNow(rec.ID))
	finished := waitEvent(t, sub, rec.ID, status.EventCycleFinished)
	assert.Equal(t, 2, finished.Counts.Completed)
	assert.Equal(t, 1, board.hitCount("/src/a.jpg"), "completed resources are not fetched again")
	assert.Equal(t, 1, board.hitCount("/src/c.gif"))
}

func TestEngine_Pagination(t *testing.T) {
	board := newBoardServer(t)
	board.setPage("/thread/1", `<a href="/src/p1.jpg">x</a><a rel="next" href="/thread/1/p2">next</a>`)
	board.setPage("/thread/1/p2", `<a href="/src/p2.jpg">y</a>`)

	e := newTestEngine(t, testConfig(t), newTestStore(t), nil)
	require.NoError(t, e.Start())
	sub := e.Subscribe()
	rec, err := e.Add(config.WatchConfig{URL: board.URL + "/thread/1"})
	require.NoError(t, err)

	finished := waitEvent(t, sub, rec.ID, status.EventCycleFinished)
	assert.Equal(t, 2, finished.Counts.Completed)
	assert.Equal(t, 2, statusOf(t, e, rec.ID).Watch.PageCount)

	first, err := os.ReadFile(filepath.Join(rec.Dir, "thread.html"))
	require.NoError(t, err)
	assert.Contains(t, string(first), `href="thread_2.html"`)
	assert.Contains(t, string(first), `href="p1.jpg"`)
	assert.FileExists(t, filepath.Join(rec.Dir, "thread_2.html"))
}

func TestEngine_SkipRules(t *testing.T) {
	board := newBoardServer(t)
	board.setPage("/thread/1", threadMarkup)

	e := newTestEngine(t, testConfig(t), newTestStore(t), nil)
	require.NoError(t, e.Start())
	sub := e.Subscribe()
	rec, err := e.Add(config.WatchConfig{
		URL:            board.URL + "/thread/1",
		SkipThumbnails: true,
		SkipPatterns:   []string{`\.png$`},
	})
	require.NoError(t, err)

	finished := waitEvent(t, sub, rec.ID, status.EventCycleFinished)
	assert.Equal(t, 1, finished.Counts.Completed)
	assert.Equal(t, 0, board.hitCount("/thumb/a_s.jpg"))
	assert.Equal(t, 0, board.hitCount("/src/b.png"))
}

func TestEngine_ThreadGoneStopsWatch(t *testing.T) {
	board := newBoardServer(t)

	store := newTestStore(t)
	e := newTestEngine(t, testConfig(t), store, nil)
	require.NoError(t, e.Start())
	sub := e.Subscribe()
	rec, err := e.Add(config.WatchConfig{URL: board.URL + "/thread/404"})
	require.NoError(t, err)

	ev := waitEvent(t, sub, rec.ID, status.EventStopped)
	assert.Equal(t, models.StopReasonNotFound, ev.StopReason)

	stored, err := store.GetWatch(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StopReasonNotFound, stored.StopReason)
	assert.True(t, statusOf(t, e, rec.ID).Watch.Stopped())
}

func TestEngine_FailedResourceRetriesLater(t *testing.T) {
	board := newBoardServer(t)
	board.setPage("/thread/1", `<a href="/src/a.jpg">a</a><a href="/src/broken.jpg">b</a><a href="/src/gone.jpg">c</a>`)
	board.setStatus("/src/broken.jpg", http.StatusInternalServerError)
	board.setStatus("/src/gone.jpg", http.StatusNotFound)

	store := newTestStore(t)
	cfg := testConfig(t)
	e := newTestEngine(t, cfg, store, nil)
	require.NoError(t, e.Start())
	sub := e.Subscribe()
	rec, err := e.Add(config.WatchConfig{URL: board.URL + "/thread/1"})
	require.NoError(t, err)

	finished := waitEvent(t, sub, rec.ID, status.EventCycleFinished)
	assert.Equal(t, 1, finished.Counts.Completed)
	assert.Equal(t, 1, finished.Counts.Failed)
	assert.Equal(t, 1, finished.Counts.NotFound)

	wait := waitEvent(t, sub, rec.ID, status.EventWaitUntil)
	assert.WithinDuration(t, time.Now().Add(cfg.RetryDelay), wait.NextCheck, time.Minute)
	assert.Equal(t, cfg.MaxTries, board.hitCount("/src/broken.jpg"))

	st, res, err := store.CheckResourceStatus(rec.ID, board.URL+"/src/broken.jpg")
	require.NoError(t, err)
	assert.Equal(t, models.ResourceStatusFailed, st)
	assert.Equal(t, "TriesExhausted_HTTPServer", res.ErrorType)
}

func TestEngine_StopAbortsTransfer(t *testing.T) {
	board := newBoardServer(t)
	board.setPage("/thread/1", `<a href="/src/slow.jpg">slow</a>`)
	board.setBlock("/src/slow.jpg")

	e := newTestEngine(t, testConfig(t), newTestStore(t), nil)
	require.NoError(t, e.Start())
	sub := e.Subscribe()
	rec, err := e.Add(config.WatchConfig{URL: board.URL + "/thread/1"})
	require.NoError(t, err)

	waitEvent(t, sub, rec.ID, status.EventPageFetched)
	require.Eventually(t, func() bool { return board.hitCount("/src/slow.jpg") == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, e.Stop(rec.ID))
	ev := waitEvent(t, sub, rec.ID, status.EventStopped)
	assert.Equal(t, models.StopReasonUser, ev.StopReason)
	require.Eventually(t, func() bool { return !statusOf(t, e, rec.ID).Running }, 5*time.Second, 10*time.Millisecond)
	assert.NoFileExists(t, filepath.Join(rec.Dir, "slow.jpg"))

	require.NoError(t, e.Resume(rec.ID))
	assert.False(t, statusOf(t, e, rec.ID).Watch.Stopped())
}

type panicExtractor struct{}

func (panicExtractor) Extract(context.Context, string, *url.URL) (*extract.Result, error) {
	panic("extractor exploded")
}

func TestEngine_PanicStopsOnlyThatWatch(t *testing.T) {
	board := newBoardServer(t)
	board.setPage("/thread/bad", threadMarkup)
	board.setPage("/thread/good", threadMarkup)

	registry := extract.DefaultRegistry()
	registry.Register("boom", func(*url.URL) bool { return false }, func() extract.Extractor { return panicExtractor{} })

	e := newTestEngine(t, testConfig(t), newTestStore(t), registry)
	require.NoError(t, e.Start())
	sub := e.Subscribe()

	bad, err := e.Add(config.WatchConfig{URL: board.URL + "/thread/bad", Extractor: "boom"})
	require.NoError(t, err)
	ev := waitEvent(t, sub, bad.ID, status.EventStopped)
	assert.Equal(t, models.StopReasonOther, ev.StopReason)
	assert.Contains(t, ev.Message, "extractor exploded")

	good, err := e.Add(config.WatchConfig{URL: board.URL + "/thread/good"})
	require.NoError(t, err)
	finished := waitEvent(t, sub, good.ID, status.EventCycleFinished)
	assert.Equal(t, 4, finished.Counts.Completed)
}

// gateExtractor holds its first extraction until released.
type gateExtractor struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	opened  sync.Once
}

func (g *gateExtractor) open() {
	g.opened.Do(func() { close(g.release) })
}

func newGateExtractor() *gateExtractor {
	return &gateExtractor{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateExtractor) Extract(context.Context, string, *url.URL) (*extract.Result, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return &extract.Result{}, nil
}

func gatedEngine(t *testing.T) (*Engine, *gateExtractor, *status.Subscription) {
	t.Helper()
	gate := newGateExtractor()
	registry := extract.DefaultRegistry()
	registry.Register("gate", func(*url.URL) bool { return false }, func() extract.Extractor { return gate })

	e := newTestEngine(t, testConfig(t), newTestStore(t), registry)
	t.Cleanup(gate.open)
	require.NoError(t, e.Start())
	return e, gate, e.Subscribe()
}

func waitGate(t *testing.T, gate *gateExtractor) {
	t.Helper()
	select {
	case <-gate.entered:
	case <-time.After(10 * time.Second):
		t.Fatal("extraction never started")
	}
}

func TestEngine_ResumeWhileCycleWindsDown(t *testing.T) {
	board := newBoardServer(t)
	board.setPage("/thread/1", `<p>no images</p>`)
	e, gate, sub := gatedEngine(t)

	rec, err := e.Add(config.WatchConfig{URL: board.URL + "/thread/1", Extractor: "gate"})
	require.NoError(t, err)
	waitGate(t, gate)

	require.NoError(t, e.Stop(rec.ID))
	require.NoError(t, e.Resume(rec.ID))
	// The check scheduled by Resume fires while the old cycle still runs.
	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.watches[rec.ID].rerun
	}, 5*time.Second, 10*time.Millisecond)

	gate.open()
	finished := waitEvent(t, sub, rec.ID, status.EventCycleFinished)
	assert.Equal(t, rec.ID, finished.WatchID)

	st := statusOf(t, e, rec.ID)
	assert.False(t, st.Watch.Stopped())
	assert.False(t, st.Watch.LastChecked.IsZero())
	assert.WithinDuration(t, time.Now().Add(time.Hour), st.Watch.NextCheck, time.Minute)
	assert.Equal(t, 2, board.hitCount("/thread/1"))
}

func TestEngine_CheckNowDuringCycle(t *testing.T) {
	board := newBoardServer(t)
	board.setPage("/thread/1", `<p>no images</p>`)
	e, gate, sub := gatedEngine(t)

	rec, err := e.Add(config.WatchConfig{URL: board.URL + "/thread/1", Extractor: "gate"})
	require.NoError(t, err)
	waitGate(t, gate)

	require.NoError(t, e.CheckNow(rec.ID))
	gate.open()

	waitEvent(t, sub, rec.ID, status.EventCycleFinished)
	wait := waitEvent(t, sub, rec.ID, status.EventWaitUntil)
	assert.WithinDuration(t, time.Now(), wait.NextCheck, 5*time.Second, "next check follows right away")

	waitEvent(t, sub, rec.ID, status.EventCycleFinished)
	wait = waitEvent(t, sub, rec.ID, status.EventWaitUntil)
	assert.WithinDuration(t, time.Now().Add(time.Hour), wait.NextCheck, time.Minute)
	assert.Equal(t, 2, board.hitCount("/thread/1"))
}

func TestEngine_AddStripsFragment(t *testing.T) {
	board := newBoardServer(t)
	board.setPage("/thread/1", `<a href="/src/a.jpg">a</a>`)

	e := newTestEngine(t, testConfig(t), newTestStore(t), nil)
	require.NoError(t, e.Start())
	sub := e.Subscribe()

	rec, err := e.Add(config.WatchConfig{URL: board.URL + "/thread/1#p5"})
	require.NoError(t, err)
	assert.Equal(t, board.URL+"/thread/1", rec.URL)

	again, err := e.Add(config.WatchConfig{URL: board.URL + "/thread/1"})
	assert.ErrorIs(t, err, ErrWatchExists)
	assert.Equal(t, rec.ID, again.ID)

	finished := waitEvent(t, sub, rec.ID, status.EventCycleFinished)
	assert.Equal(t, 1, finished.Counts.Completed)
	assert.Equal(t, 1, board.hitCount("/thread/1"))
}

func TestEngine_VerifiedLocalCopyIsKept(t *testing.T) {
	md5Attr := func(s string) string {
		sum := md5.Sum([]byte(s))
		return base64.StdEncoding.EncodeToString(sum[:])
	}
	board := newBoardServer(t)
	board.setPage("/thread/1", fmt.Sprintf(
		`<a href="/src/a.jpg"><img src="/thumb/a_s.jpg" data-md5="%s"></a>`+
			`<a href="/src/b.png"><img src="/thumb/b_s.png" data-md5="%s"></a>`,
		md5Attr("bytes of /src/a.jpg"), md5Attr("bytes of /src/b.png")))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("bytes of /src/a.jpg"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.png"), []byte("cut short"), 0o644))

	e := newTestEngine(t, testConfig(t), newTestStore(t), nil)
	sub := e.Subscribe()
	require.NoError(t, e.Start())
	rec, err := e.Add(config.WatchConfig{URL: board.URL + "/thread/1", Dir: dir})
	require.NoError(t, err)

	finished := waitEvent(t, sub, rec.ID, status.EventCycleFinished)
	assert.Equal(t, 4, finished.Counts.Completed)
	assert.Equal(t, 0, board.hitCount("/src/a.jpg"), "a copy matching its MD5 is not fetched again")
	assert.Equal(t, 1, board.hitCount("/src/b.png"))

	data, err := os.ReadFile(filepath.Join(dir, "b.png"))
	require.NoError(t, err)
	assert.Equal(t, "bytes of /src/b.png", string(data))
}

func TestEngine_AddValidation(t *testing.T) {
	e := newTestEngine(t, testConfig(t), newTestStore(t), nil)

	_, err := e.Add(config.WatchConfig{URL: "ftp://example.com/x"})
	assert.ErrorIs(t, err, utils.ErrConfigValidation)

	first, err := e.Add(config.WatchConfig{URL: "http://Boards.example/thread/1/"})
	require.NoError(t, err)
	again, err := e.Add(config.WatchConfig{URL: "http://boards.example/thread/1"})
	assert.ErrorIs(t, err, ErrWatchExists)
	assert.Equal(t, first.ID, again.ID)

	_, err = e.Add(config.WatchConfig{URL: "http://boards.example/thread/2", Extractor: "missing"})
	assert.ErrorIs(t, err, extract.ErrNoExtractor)
}

func TestEngine_Remove(t *testing.T) {
	store := newTestStore(t)
	e := newTestEngine(t, testConfig(t), store, nil)

	rec, err := e.Add(config.WatchConfig{URL: "http://boards.example/thread/1"})
	require.NoError(t, err)
	require.NoError(t, e.Remove(rec.ID))

	_, err = store.GetWatch(rec.ID)
	assert.ErrorIs(t, err, utils.ErrNotFound)
	assert.Empty(t, e.Snapshot())
	assert.ErrorIs(t, e.Remove(rec.ID), ErrUnknownWatch)
	assert.ErrorIs(t, e.Stop(rec.ID), ErrUnknownWatch)
}

func TestEngine_RestoresStoredWatches(t *testing.T) {
	board := newBoardServer(t)
	board.setPage("/thread/1", threadMarkup)
	store := newTestStore(t)
	cfg := testConfig(t)

	first := NewEngine(cfg, store, nil, nil, testLogger())
	rec, err := first.Add(config.WatchConfig{URL: board.URL + "/thread/1"})
	require.NoError(t, err)
	require.NoError(t, first.Shutdown(context.Background()))
	assert.Equal(t, 0, board.hitCount("/thread/1"), "an engine that was never started does not check")

	second := newTestEngine(t, cfg, store, nil)
	sub := second.Subscribe()
	require.NoError(t, second.Start())
	finished := waitEvent(t, sub, rec.ID, status.EventCycleFinished)
	assert.Equal(t, 4, finished.Counts.Completed)
}

func TestEngine_ShutdownIsIdempotent(t *testing.T) {
	e := NewEngine(testConfig(t), newTestStore(t), nil, nil, testLogger())
	require.NoError(t, e.Start())
	require.NoError(t, e.Shutdown(context.Background()))
	require.NoError(t, e.Shutdown(context.Background()))

	_, err := e.Add(config.WatchConfig{URL: "http://boards.example/thread/1"})
	assert.ErrorIs(t, err, ErrEngineStopped)
	assert.ErrorIs(t, e.Start(), ErrEngineStopped)
}

func TestPageFileName(t *testing.T) {
	assert.Equal(t, "thread.html", pageFileName(0))
	assert.Equal(t, "thread_3.html", pageFileName(2))
	assert.Equal(t, fmt.Sprintf("%s_%d.html", pageFilePrefix, 2), pageFileName(1))
}
