package source

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/obsidianstack/pagescore/agent/internal/compute"
	"github.com/obsidianstack/pagescore/agent/internal/config"
	"github.com/obsidianstack/pagescore/agent/internal/trace"
)

// Spool subdirectories that collected and rejected files are moved to.
const (
	DoneDir   = "done"
	FailedDir = "failed"
)

// defaultSettle is how long a file must go unmodified before it is collected,
// so half-written captures are left for the next pass.
const defaultSettle = time.Second

type spoolSource struct {
	src      config.Source
	manifest *Manifest
	settle   time.Duration
	now      func() time.Time
}

func newSpool(src config.Source, m *Manifest) *spoolSource {
	return &spoolSource{src: src, manifest: m, settle: defaultSettle, now: time.Now}
}

func (s *spoolSource) ID() string { return s.src.ID }

// Collect reads every settled file matching the include globs and not the
// exclude globs. Each file is moved to done/ once read, or to failed/ when it
// cannot be turned into a bundle.
func (s *spoolSource) Collect(ctx context.Context) ([]*compute.Bundle, error) {
	files, err := s.list()
	if err != nil {
		return nil, err
	}

	var bundles []*compute.Bundle
	for _, rel := range files {
		if ctx.Err() != nil {
			break
		}
		full := filepath.Join(s.src.Path, filepath.FromSlash(rel))
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			continue
		}
		if s.now().Sub(info.ModTime()) < s.settle {
			continue
		}

		b, err := s.read(full)
		if err != nil {
			slog.Warn("spool: rejecting file", "source", s.src.ID, "file", rel, "err", err)
			s.move(rel, FailedDir)
			continue
		}
		b.Name = rel
		b.SourceID = s.src.ID
		b.CollectedAt = s.now().UTC()
		bundles = append(bundles, b)
		s.move(rel, DoneDir)
	}
	slog.Debug("spool: collected", "source", s.src.ID, "bundles", len(bundles))
	return bundles, ctx.Err()
}

// list returns the slash-separated paths relative to the spool root that are
// candidates for collection, sorted.
func (s *spoolSource) list() ([]string, error) {
	include := s.src.Include
	if len(include) == 0 {
		include = []string{"**/*"}
	}
	fsys := os.DirFS(s.src.Path)

	seen := make(map[string]bool)
	var out []string
	for _, pattern := range include {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("spool %q: include %q: %w", s.src.ID, pattern, err)
		}
		for _, m := range matches {
			if seen[m] || s.excluded(m) {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *spoolSource) excluded(rel string) bool {
	top, _, _ := strings.Cut(rel, "/")
	if top == DoneDir || top == FailedDir {
		return true
	}
	for _, pattern := range s.src.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (s *spoolSource) read(full string) (*compute.Bundle, error) {
	data, err := trace.ReadFile(full)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(full)
	return s.manifest.Bundle(data, func(ref string) ([]byte, error) {
		p := filepath.Clean(filepath.Join(dir, filepath.FromSlash(ref)))
		if !strings.HasPrefix(p, filepath.Clean(s.src.Path)+string(filepath.Separator)) {
			return nil, fmt.Errorf("reference %q escapes the spool", ref)
		}
		return os.ReadFile(p)
	})
}

// move relocates rel under the given spool subdirectory, keeping its
// relative path. Failures are logged; the file is then retried next pass.
func (s *spoolSource) move(rel, dir string) {
	from := filepath.Join(s.src.Path, filepath.FromSlash(rel))
	to := filepath.Join(s.src.Path, dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		slog.Error("spool: move failed", "source", s.src.ID, "file", rel, "err", err)
		return
	}
	if err := os.Rename(from, to); err != nil {
		slog.Error("spool: move failed", "source", s.src.ID, "file", rel, "err", err)
	}
}

// Watch calls trigger whenever a file is created or written in the spool.
// New subdirectories are watched as they appear.
func (s *spoolSource) Watch(ctx context.Context, trigger func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	err = filepath.WalkDir(s.src.Path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		if rel, _ := filepath.Rel(s.src.Path, p); rel == DoneDir || rel == FailedDir {
			return filepath.SkipDir
		}
		return watcher.Add(p)
	})
	if err != nil {
		return fmt.Errorf("spool %q: watch: %w", s.src.ID, err)
	}

	slog.Info("spool: watching for captures", "source", s.src.ID, "path", s.src.Path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			rel, _ := filepath.Rel(s.src.Path, event.Name)
			if s.excluded(filepath.ToSlash(rel)) {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				_ = watcher.Add(event.Name)
				continue
			}
			trigger()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("spool: watcher error", "source", s.src.ID, "err", err)
		}
	}
}
