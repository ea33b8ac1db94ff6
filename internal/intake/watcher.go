// Package intake discovers capture files in the drop directory and archives
// them once decided.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"golang.org/x/sync/errgroup"
)

// Handler decides and archives one capture. The path is expected to leave
// the intake directory before the handler returns.
type Handler func(ctx context.Context, path string) error

type fileStamp struct {
	size int64
	mod  time.Time
}

func (s fileStamp) equal(o fileStamp) bool {
	return s.size == o.size && s.mod.Equal(o.mod)
}

// Watcher feeds captures from filesystem events and a periodic scan into a
// single queue. A path is claimed while queued or in flight, so the two
// sources never hand the same file to the handler twice.
type Watcher struct {
	dir         string
	handle      Handler
	logger      *slog.Logger
	poll        time.Duration
	settle      time.Duration
	concurrency int

	queue chan string

	mu      sync.Mutex
	claimed map[string]struct{}
	stuck   map[string]fileStamp // handled but never archived
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithPollInterval sets the interval between directory scans.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) { w.poll = d }
}

// WithSettleDelay sets how long a file's size must stay unchanged.
func WithSettleDelay(d time.Duration) Option {
	return func(w *Watcher) { w.settle = d }
}

// WithConcurrency bounds how many captures are handled at once.
func WithConcurrency(n int) Option {
	return func(w *Watcher) { w.concurrency = n }
}

// NewWatcher creates a watcher over dir.
func NewWatcher(dir string, handle Handler, opts ...Option) *Watcher {
	w := &Watcher{
		dir:         dir,
		handle:      handle,
		logger:      slog.Default(),
		poll:        constants.DefaultPollInterval,
		settle:      constants.DefaultSettleDelay,
		concurrency: constants.DefaultWorkerConcurrency,
		queue:       make(chan string, constants.QueueBuffer),
		claimed:     make(map[string]struct{}),
		stuck:       make(map[string]fileStamp),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.concurrency < 1 {
		w.concurrency = 1
	}
	return w
}

// Dir returns the intake directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// claim marks path as owned by the watcher. It fails when the path is already
// queued or in flight, or when it was handled before and has not changed.
func (w *Watcher) claim(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, busy := w.claimed[path]; busy {
		return false
	}
	if prev, ok := w.stuck[path]; ok {
		if cur, err := stamp(path); err == nil && cur.equal(prev) {
			return false
		}
		delete(w.stuck, path)
	}
	w.claimed[path] = struct{}{}
	return true
}

func (w *Watcher) release(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.claimed, path)
}

func (w *Watcher) markStuck(path string, s fileStamp) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stuck[path] = s
}

// Enqueue offers a path to the worker. It returns false for non-capture
// files, for paths already claimed and when the queue is full; the next scan
// picks those up again.
func (w *Watcher) Enqueue(path string) bool {
	if !attendance.IsCaptureFile(path) {
		return false
	}
	if !w.claim(path) {
		return false
	}
	select {
	case w.queue <- path:
		return true
	default:
		w.release(path)
		w.logger.Warn("intake queue full, deferring", "file", filepath.Base(path))
		return false
	}
}

// Pending lists capture files currently in the intake directory, oldest first.
func (w *Watcher) Pending() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("read intake dir: %w", err)
	}

	type pending struct {
		path string
		mod  time.Time
	}
	var files []pending
	for _, e := range entries {
		if !e.Type().IsRegular() || !attendance.IsCaptureFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, pending{path: filepath.Join(w.dir, e.Name()), mod: info.ModTime()})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].mod.Equal(files[j].mod) {
			return files[i].mod.Before(files[j].mod)
		}
		return files[i].path < files[j].path
	})

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

// Scan enqueues every pending capture and returns how many were queued.
func (w *Watcher) Scan() int {
	paths, err := w.Pending()
	if err != nil {
		w.logger.Error("intake scan failed", "error", err)
		return 0
	}
	n := 0
	for _, p := range paths {
		if w.Enqueue(p) {
			n++
		}
	}
	return n
}

// Run watches the directory until ctx is cancelled. Filesystem events and
// the periodic scan both go through Enqueue; a single consumer hands queued
// paths to the handler with bounded parallelism. On shutdown no new paths
// are started and in-flight captures run to completion.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create intake dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	sched := gocron.NewScheduler(time.Local)
	if _, err := sched.Every(w.poll).SingletonMode().Do(func() { w.Scan() }); err != nil {
		return fmt.Errorf("schedule intake scan: %w", err)
	}
	sched.StartAsync()
	defer sched.Stop()

	go w.forwardEvents(ctx, fsw)

	w.logger.Info("watching intake directory", "dir", w.dir, "poll", w.poll, "concurrency", w.concurrency)
	return w.consume(ctx)
}

func (w *Watcher) forwardEvents(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				w.Enqueue(ev.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fs watcher error", "error", err)
		}
	}
}

func (w *Watcher) consume(ctx context.Context) error {
	g := new(errgroup.Group)
	g.SetLimit(w.concurrency)

	for {
		select {
		case <-ctx.Done():
			err := g.Wait()
			w.drainQueue()
			return err
		case path := <-w.queue:
			g.Go(func() error {
				if ctx.Err() != nil {
					w.release(path)
					return nil
				}
				w.process(ctx, path)
				return nil
			})
		}
	}
}

// drainQueue releases queued paths that were never started. They stay in
// the intake directory and are picked up on the next start.
func (w *Watcher) drainQueue() {
	for {
		select {
		case path := <-w.queue:
			w.release(path)
		default:
			return
		}
	}
}

// ProcessNow handles every pending capture immediately, bypassing the poll
// delay, and returns how many reached the handler. Paths already claimed by
// the running loop are skipped. Cancelling ctx stops new captures from
// starting; those already handed to the handler run to completion and the
// rest stay in the intake directory. The error is ctx.Err() in that case.
func (w *Watcher) ProcessNow(ctx context.Context) (int, error) {
	paths, err := w.Pending()
	if err != nil {
		return 0, err
	}

	var (
		mu      sync.Mutex
		handled int
	)
	g := new(errgroup.Group)
	g.SetLimit(w.concurrency)
	for _, p := range paths {
		if ctx.Err() != nil {
			break
		}
		if !w.claim(p) {
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				w.release(p)
				return nil
			}
			if w.process(ctx, p) {
				mu.Lock()
				handled++
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return handled, ctx.Err()
}

// process runs the handler for one claimed path and reports whether the
// handler ran. ctx only interrupts the settle wait; once the handler starts
// the capture is decided and archived even if ctx is cancelled.
func (w *Watcher) process(ctx context.Context, path string) bool {
	defer w.release(path)

	ready, err := w.waitStable(ctx, path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, context.Canceled) {
			w.logger.Warn("cannot stat capture", "file", filepath.Base(path), "error", err)
		}
		return false
	}
	if !ready {
		w.logger.Debug("capture not ready, deferring", "file", filepath.Base(path))
		return false
	}

	if err := w.handle(context.WithoutCancel(ctx), path); err != nil {
		w.logger.Error("capture handling failed", "file", filepath.Base(path), "error", err)
	}

	// A capture still in place was not archived; leave it alone until it changes.
	if s, err := stamp(path); err == nil {
		w.markStuck(path, s)
		w.logger.Warn("capture left in intake directory", "file", filepath.Base(path))
	}
	return true
}

// waitStable reports whether the file is non-empty and unchanged across the
// settle delay.
func (w *Watcher) waitStable(ctx context.Context, path string) (bool, error) {
	before, err := stamp(path)
	if err != nil {
		return false, err
	}
	if before.size == 0 {
		return false, nil
	}

	if w.settle > 0 {
		t := time.NewTimer(w.settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return false, ctx.Err()
		case <-t.C:
		}
	}

	after, err := stamp(path)
	if err != nil {
		return false, err
	}
	return after.equal(before), nil
}

func stamp(path string) (fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, err
	}
	if !info.Mode().IsRegular() {
		return fileStamp{}, fmt.Errorf("%s is not a regular file", path)
	}
	return fileStamp{size: info.Size(), mod: info.ModTime()}, nil
}
