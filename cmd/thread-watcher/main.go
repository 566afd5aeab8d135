package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/thread-watcher/pkg/config"
	applog "github.com/Sriram-PR/thread-watcher/pkg/log"
	"github.com/Sriram-PR/thread-watcher/pkg/status"
	"github.com/Sriram-PR/thread-watcher/pkg/storage"
	"github.com/Sriram-PR/thread-watcher/pkg/watch"
)

const version = "0.4.0"

const shutdownGrace = 30 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "watch":
		runWatch(os.Args[2:])
	case "add":
		runAdd(os.Args[2:])
	case "remove":
		runRemove(os.Args[2:])
	case "list":
		runList(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "version":
		fmt.Printf("thread-watcher %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `thread-watcher - Watch discussion threads and archive their images

Usage:
  thread-watcher <command> [options]

Commands:
  watch     Run the watcher until interrupted
  add       Add a thread to the stored watch list
  remove    Remove a watch by id
  list      List stored watches and their progress
  validate  Validate configuration file
  version   Show version info

Run 'thread-watcher <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// loadAndValidateConfig loads the config and applies defaults, logging warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) (*config.AppConfig, error) {
	appCfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}
	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, err
	}
	return appCfg, nil
}

// openEngine builds an engine over the store in appCfg.StateDir. The caller
// shuts the engine down before closing the store.
func openEngine(appCfg *config.AppConfig, log *logrus.Logger) (*watch.Engine, *storage.BadgerStore, error) {
	store, err := storage.NewBadgerStore(appCfg.StateDir, applog.Component(log, "storage"))
	if err != nil {
		return nil, nil, err
	}
	engine := watch.NewEngine(*appCfg, store, nil, nil, applog.Component(log, "watch"))
	return engine, store, nil
}

func closeEngine(engine *watch.Engine, store *storage.BadgerStore, log *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := engine.Shutdown(ctx); err != nil {
		log.Warnf("Engine shutdown: %v", err)
	}
	if err := store.Close(); err != nil {
		log.Errorf("Closing store: %v", err)
	}
}

// runWatch handles the watch subcommand
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	verbose := fs.Bool("events", false, "Print every status event")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: thread-watcher watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := applog.New(*logLevel, os.Stderr)
	appCfg, err := loadAndValidateConfig(*configFile, log)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	logAppConfig(appCfg, log)

	engine, store, err := openEngine(appCfg, log)
	if err != nil {
		log.Fatalf("Failed to open state store: %v", err)
	}

	gcCtx, stopGC := context.WithCancel(context.Background())
	go store.RunGC(gcCtx, 10*time.Minute)

	sub := engine.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.C {
			if *verbose || ev.Kind == status.EventStopped {
				fmt.Fprintln(os.Stdout, formatEvent(ev))
			}
		}
	}()

	if err := engine.Start(); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	addConfiguredWatches(engine, appCfg.Watches, log)

	// --- Handle signals for graceful shutdown ---
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	log.Warnf("Received signal %v, shutting down...", sig)
	go func() {
		sig := <-sigChan
		log.Warnf("Received second signal: %v. Forcing exit.", sig)
		os.Exit(1)
	}()

	closeEngine(engine, store, log)
	stopGC()
	<-done
	log.Info("Watcher stopped.")
}

// addConfiguredWatches adds the watches listed in the config file. Threads
// already in the store keep their stored state.
func addConfiguredWatches(engine *watch.Engine, watches []config.WatchConfig, log *logrus.Logger) {
	for _, wc := range watches {
		rec, err := engine.Add(wc)
		switch {
		case errors.Is(err, watch.ErrWatchExists):
			log.Debugf("Watch for %s already stored as %s", wc.URL, rec.ID)
		case err != nil:
			log.Errorf("Cannot watch %s: %v", wc.URL, err)
		}
	}
}

func formatEvent(ev status.Event) string {
	ts := ev.Time.Format("15:04:05")
	switch ev.Kind {
	case status.EventResourceDone:
		return fmt.Sprintf("%s %s %s %s %s (%d bytes)", ts, ev.WatchID, ev.Kind, ev.Status, ev.URL, ev.Bytes)
	case status.EventCycleFinished:
		return fmt.Sprintf("%s %s %s completed=%d failed=%d pending=%d", ts, ev.WatchID, ev.Kind,
			ev.Counts.Completed, ev.Counts.Failed, ev.Counts.Pending)
	case status.EventWaitUntil:
		return fmt.Sprintf("%s %s %s %s", ts, ev.WatchID, ev.Kind, ev.NextCheck.Format(time.RFC3339))
	case status.EventStopped:
		return fmt.Sprintf("%s %s %s %s: %s", ts, ev.WatchID, ev.Kind, ev.StopReason, ev.Message)
	default:
		return fmt.Sprintf("%s %s %s %s", ts, ev.WatchID, ev.Kind, ev.URL)
	}
}

// runAdd handles the add subcommand
func runAdd(args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	interval := fs.String("interval", "", "Check interval (e.g., 5m, 1h, 1d); default from config")
	dir := fs.String("dir", "", "Destination directory; default under download_dir")
	skipThumbs := fs.Bool("skip-thumbnails", false, "Do not download thumbnails")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: thread-watcher add [options] <url>\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}

	wc := config.WatchConfig{URL: fs.Arg(0), Dir: *dir, SkipThumbnails: *skipThumbs}
	if *interval != "" {
		d, err := watch.ParseInterval(*interval)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		wc.Interval = d
	}
	os.Exit(doAdd(*configFile, wc, os.Stdout, os.Stderr))
}

// doAdd stores a new watch. Returns exit code (0 = success, 1 = error).
func doAdd(configPath string, wc config.WatchConfig, stdout, stderr io.Writer) int {
	log := applog.New("warn", stderr)
	appCfg, err := loadAndValidateConfig(configPath, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	engine, store, err := openEngine(appCfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer closeEngine(engine, store, log)

	rec, err := engine.Add(wc)
	switch {
	case errors.Is(err, watch.ErrWatchExists):
		fmt.Fprintf(stdout, "Already watching %s as %s\n", rec.URL, rec.ID)
		return 0
	case err != nil:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Added %s\n  id: %s\n  dir: %s\n  interval: %s\n",
		rec.URL, rec.ID, rec.Dir, watch.FormatInterval(rec.Interval))
	return 0
}

// runRemove handles the remove subcommand
func runRemove(args []string) {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: thread-watcher remove [options] <id>\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	os.Exit(doRemove(*configFile, fs.Arg(0), os.Stdout, os.Stderr))
}

// doRemove deletes a stored watch. Downloaded files are kept.
func doRemove(configPath, id string, stdout, stderr io.Writer) int {
	log := applog.New("warn", stderr)
	appCfg, err := loadAndValidateConfig(configPath, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	engine, store, err := openEngine(appCfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer closeEngine(engine, store, log)

	if err := engine.Load(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := engine.Remove(id); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Removed %s\n", id)
	return 0
}

// runList handles the list subcommand
func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: thread-watcher list [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(doList(*configFile, os.Stdout, os.Stderr))
}

// doList prints every stored watch with its resource counts.
func doList(configPath string, stdout, stderr io.Writer) int {
	log := applog.New("warn", stderr)
	appCfg, err := loadAndValidateConfig(configPath, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	engine, store, err := openEngine(appCfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer closeEngine(engine, store, log)

	// Load without Start so nothing gets checked.
	if err := engine.Load(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	statuses := engine.Snapshot()
	if len(statuses) == 0 {
		fmt.Fprintln(stdout, "No watches.")
		return 0
	}

	now := time.Now()
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tURL\tINTERVAL\tNEXT\tDONE\tFAILED\tPENDING")
	for _, st := range statuses {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n", st.Watch.ID, st.Watch.URL, watch.FormatInterval(st.Watch.Interval),
			watch.FormatNextCheck(st, now), st.Counts.Completed, st.Counts.Failed, st.Counts.Pending)
	}
	tw.Flush()
	return 0
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: thread-watcher validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, _ := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}

	failed := 0
	for i := range appCfg.Watches {
		wc := &appCfg.Watches[i]
		watchWarnings, err := wc.Validate()
		for _, w := range watchWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", wc.URL, w)
		}
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", wc.URL, err)
			failed++
			continue
		}
		fmt.Fprintf(stdout, "OK: [%s]\n", wc.URL)
	}

	if failed > 0 {
		fmt.Fprintf(stderr, "%d of %d watches invalid\n", failed, len(appCfg.Watches))
		return 1
	}
	fmt.Fprintf(stdout, "Configuration valid (%d watches)\n", len(appCfg.Watches))
	return 0
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: StateDir:%s, DownloadDir:%s, CheckInterval:%v, RetryDelay:%v",
		appCfg.StateDir, appCfg.DownloadDir, appCfg.CheckInterval, appCfg.RetryDelay)
	log.Infof("Global Config Transfers: MaxTries:%d, MaxConnPerHost:%d, DelayPerHost:%v, RequestTimeout:%v, ReadTimeout:%v",
		appCfg.MaxTries, appCfg.MaxConnectionsPerHost, appCfg.DelayPerHost, appCfg.RequestTimeout, appCfg.ReadTimeout)
	log.Infof("Global Config Pools: MinWorkers:%d, Threshold:%v, IdleTimeout:%v",
		appCfg.PoolMinWorkers, appCfg.PoolThreshold, appCfg.PoolIdleTimeout)
	log.Infof("Global Config HTTP Client: MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout)
}
