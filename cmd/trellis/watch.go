package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/jward/trellis"
	"github.com/jward/trellis/internal/lang"
)

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Build a workspace and rebuild it as files change",
	Long:  "Builds like 'trellis build', then watches path and incrementally rebuilds affected documents after each burst of file events, rewriting the snapshot.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	s, err := openSession(args)
	if err != nil {
		return outputError("watch", err)
	}
	defer s.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := s.ws.LoadDirectory(ctx, s.targetDir); err != nil {
		return outputError("watch", fmt.Errorf("loading: %w", err))
	}
	if err := s.ws.Export(ctx, s.store); err != nil {
		return outputError("watch", fmt.Errorf("exporting: %w", err))
	}
	fmt.Fprintf(os.Stderr, "Built %s in %s, watching for changes\n", s.targetDir, time.Since(start).Round(time.Millisecond))

	filter := s.ws.PathFilter(s.targetDir)
	err = watchDirectory(ctx, s.targetDir, s.config.Debounce, filter, func(paths []string) {
		rebuild(ctx, s, filter, paths)
	})
	if err != nil {
		return outputError("watch", err)
	}
	return nil
}

// rebuild turns a debounced batch of event paths into an update and a new
// snapshot.
func rebuild(ctx context.Context, s *session, filter *trellis.PathFilter, paths []string) {
	start := time.Now()
	changed, deleted := classifyPaths(s.ws, filter, paths)
	if len(changed) == 0 && len(deleted) == 0 {
		return
	}
	if err := s.ws.Update(ctx, changed, deleted); err != nil {
		if !trellis.IsCancelled(err) {
			fmt.Fprintf(os.Stderr, "Error: rebuilding: %s\n", err)
		}
		return
	}
	if err := s.ws.Export(ctx, s.store); err != nil {
		fmt.Fprintf(os.Stderr, "Error: exporting: %s\n", err)
		return
	}

	errCount := 0
	for _, doc := range s.ws.Documents() {
		for _, d := range doc.Diagnostics {
			if d.Severity == trellis.SeverityError {
				errCount++
			}
		}
	}
	fmt.Fprintf(os.Stderr, "Rebuilt %d changed, %d deleted in %s (%d error(s))\n",
		len(changed), len(deleted), time.Since(start).Round(time.Millisecond), errCount)
}

// classifyPaths splits event paths into changed and deleted URIs. A
// removed directory deletes every tracked document below it.
func classifyPaths(ws *trellis.Workspace, filter *trellis.PathFilter, paths []string) (changed, deleted []string) {
	seen := make(map[string]bool)
	for _, p := range paths {
		info, err := os.Stat(p)
		switch {
		case err != nil:
			prefix := lang.PathToURI(p)
			for _, doc := range ws.Documents() {
				if (doc.URI == prefix || strings.HasPrefix(doc.URI, prefix+"/")) && !seen[doc.URI] {
					seen[doc.URI] = true
					deleted = append(deleted, doc.URI)
				}
			}
		case info.IsDir():
			// Files moved in with a new directory raise no events of
			// their own.
			_ = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if d.IsDir() {
					if path != p && filter.SkipDir(path) {
						return filepath.SkipDir
					}
					return nil
				}
				if uri := lang.PathToURI(path); filter.Accept(path) && !seen[uri] {
					seen[uri] = true
					changed = append(changed, uri)
				}
				return nil
			})
		case filter.Accept(p):
			uri := lang.PathToURI(p)
			if !seen[uri] {
				seen[uri] = true
				changed = append(changed, uri)
			}
		}
	}
	return changed, deleted
}

// watchDirectory calls onChange with the sorted set of paths touched by each
// burst of events, once no event arrived for debounce.
func watchDirectory(ctx context.Context, root string, debounce time.Duration, filter *trellis.PathFilter, onChange func(paths []string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := addWatchRecursive(watcher, root, filter); err != nil {
		return err
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	pending := map[string]bool{}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			path := filepath.Clean(event.Name)
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(path); err == nil && info.IsDir() {
					if filter.SkipDir(path) {
						continue
					}
					_ = addWatchRecursive(watcher, path, filter)
				}
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending[path] = true
			timer.Reset(debounce)
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			pending = map[string]bool{}
			onChange(paths)
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watching %s: %w", root, werr)
		}
	}
}

// addWatchRecursive watches dir and every directory below it that the
// filter does not skip.
func addWatchRecursive(watcher *fsnotify.Watcher, dir string, filter *trellis.PathFilter) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && filter.SkipDir(path) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
