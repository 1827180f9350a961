package trellis

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"sort"
	"strings"
	"sync"

	ignore "github.com/sabhiram/go-gitignore"
	"golang.org/x/sync/errgroup"

	"github.com/jward/trellis/internal/lang"
)

// skipDirs are never descended into when walking a directory.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
}

// LoadDirectory tracks every file under root that an enabled language
// claims and builds them. Inside a git repository git ls-files decides
// which files count; otherwise the directory is walked, honouring a
// top-level .gitignore. Files already tracked are treated as changed.
func (w *Workspace) LoadDirectory(ctx context.Context, root string) error {
	paths, err := w.gitListFiles(root)
	if err != nil {
		// Not a git repo or git not available; fall back to walk.
		paths, err = w.walkListFiles(root)
		if err != nil {
			return err
		}
	}

	texts := make([]string, len(paths))
	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(goruntime.NumCPU())
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(p)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("read %s: %w", p, err))
				mu.Unlock()
				paths[i] = ""
				return nil
			}
			texts[i] = string(data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Untracked files become documents inside the update's write, through
	// the builder's creator.
	var changed []string
	w.textMu.Lock()
	for i, p := range paths {
		if p == "" {
			continue
		}
		uri := lang.PathToURI(p)
		if _, open := w.overlay[uri]; !open {
			w.loaded[uri] = texts[i]
		}
		changed = append(changed, uri)
	}
	w.textMu.Unlock()

	if err := w.Update(ctx, changed, nil); err != nil {
		return err
	}
	if len(errs) > 0 {
		return fmt.Errorf("loading had %d error(s): %w", len(errs), errs[0])
	}
	return nil
}

// gitListFiles uses git ls-files to discover tracked and untracked (but not
// ignored) files under root, filtered to enabled languages.
func (w *Workspace) gitListFiles(root string) ([]string, error) {
	// --cached: tracked files, --others: untracked files,
	// --exclude-standard: respect .gitignore, .git/info/exclude, global excludes.
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		absPath := filepath.Join(root, line)
		if _, ok := w.registry.ForPath(absPath); ok {
			paths = append(paths, absPath)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// walkListFiles discovers files by walking the filesystem, used as a fallback
// when git is not available.
func (w *Workspace) walkListFiles(root string) ([]string, error) {
	filter := w.PathFilter(root)
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && filter.SkipDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if filter.Accept(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}

// PathFilter decides which paths under a root the workspace tracks.
type PathFilter struct {
	root     string
	gi       *ignore.GitIgnore
	registry *lang.Registry
}

// PathFilter returns a filter for root using its top-level .gitignore, if
// any.
func (w *Workspace) PathFilter(root string) *PathFilter {
	f := &PathFilter{root: root, registry: w.registry}
	if gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		f.gi = gi
	}
	return f
}

// SkipDir reports whether the directory at path is excluded: hidden
// directories, node_modules, vendor, __pycache__, and gitignored ones.
func (f *PathFilter) SkipDir(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || skipDirs[name] {
		return true
	}
	return f.ignored(path)
}

// Accept reports whether the file at path belongs to an enabled language
// and is not ignored.
func (f *PathFilter) Accept(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	if _, ok := f.registry.ForPath(path); !ok {
		return false
	}
	return !f.ignored(path)
}

// ignored also covers files below a skipped directory, so filtering single
// watch events agrees with the walk.
func (f *PathFilter) ignored(path string) bool {
	rel, err := filepath.Rel(f.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	for dir := filepath.Dir(rel); dir != "."; dir = filepath.Dir(dir) {
		if name := filepath.Base(dir); skipDirs[name] || strings.HasPrefix(name, ".") {
			return true
		}
	}
	return f.gi != nil && f.gi.MatchesPath(filepath.ToSlash(rel))
}
