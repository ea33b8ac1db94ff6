package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"golang.org/x/sync/errgroup"
)

// ProgressInfo contains progress information for callbacks
type ProgressInfo struct {
	Current  int
	Total    int
	File     string
	Identity string
	Err      error
}

// BulkOptions configures EnrollDir.
type BulkOptions struct {
	Concurrency int                // Number of images embedded in parallel
	OnProgress  func(ProgressInfo) // Optional progress callback, never called concurrently
}

// BulkResult summarizes a bulk enrollment.
type BulkResult struct {
	ProcessedCount int
	EnrolledCount  int
	Errors         map[string]error // keyed by file name
}

// EnrollDir enrolls every capture image in dir under the identity claimed by
// its filename. Per-file failures are collected, not returned.
func (e *Engine) EnrollDir(ctx context.Context, dir string, opts BulkOptions) (*BulkResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && attendance.IsCaptureFile(entry.Name()) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = constants.DefaultConcurrency
	}

	result := &BulkResult{Errors: make(map[string]error)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, path := range files {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			identity := attendance.ParseCapture(path, e.now()).Claim
			err := e.Enroll(gctx, identity, path)

			mu.Lock()
			result.ProcessedCount++
			if err != nil {
				result.Errors[filepath.Base(path)] = err
			} else {
				result.EnrolledCount++
			}
			info := ProgressInfo{
				Current:  result.ProcessedCount,
				Total:    len(files),
				File:     filepath.Base(path),
				Identity: identity,
				Err:      err,
			}
			if opts.OnProgress != nil {
				opts.OnProgress(info)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, nil
}
