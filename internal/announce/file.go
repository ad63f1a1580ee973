package announce

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"

	"snapfeed/pkg/feed"
)

// File announces versions from a local file holding the decimal version
// number. Watch reacts to filesystem events, so announcements propagate
// without polling. The directory is watched rather than the file itself
// because writers typically replace the file atomically.
type File struct {
	path string
}

// NewFile returns an announcer reading the version from path.
func NewFile(path string) *File { return &File{path: path} }

// Latest parses the current file contents. A missing file means nothing has
// been announced yet.
func (f *File) Latest(context.Context) (feed.Version, error) {
	b, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return feed.VersionNone, nil
	}
	if err != nil {
		return feed.VersionNone, err
	}
	raw := strings.TrimSpace(string(b))
	if raw == "" {
		return feed.VersionNone, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return feed.VersionNone, fmt.Errorf("announcement file %s: bad version %q", f.path, raw)
	}
	return feed.Version(n), nil
}

// Watch invokes fn whenever the announced version changes, until ctx is
// done.
func (f *File) Watch(ctx context.Context, fn func(feed.Version)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return err
	}
	last, _ := f.Latest(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != f.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			v, err := f.Latest(ctx)
			if err != nil || v == feed.VersionNone || v == last {
				continue
			}
			last = v
			fn(v)
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}
