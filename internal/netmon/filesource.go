package netmon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// netStateFile is the on-disk format written by the device shell.
// InternetReachable is a pointer so "unknown" survives the round trip.
type netStateFile struct {
	Connected         bool  `json:"connected"`
	InternetReachable *bool `json:"internet_reachable"`
}

// FileSource reads connectivity state from a small JSON file maintained
// by the device shell and watches it with fsnotify for changes.
//
// This is the signal source on platforms where the application shell
// exports network state as a file, and it is what the integration tests
// use to simulate airplane mode: rewrite the file, watch the monitor
// react.
type FileSource struct {
	path   string
	logger *log.Logger
}

// NewFileSource creates a file source for the given state file path.
func NewFileSource(path string, logger *log.Logger) *FileSource {
	if logger == nil {
		logger = log.Default()
	}
	return &FileSource{path: path, logger: logger}
}

// Run implements Source. The file is read once at startup and re-read on
// every write, create, or rename event. Watching the parent directory
// rather than the file itself survives atomic replace-by-rename, which is
// how shells typically update state files.
func (f *FileSource) Run(ctx context.Context, emit func(State)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	emit(f.read())

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != f.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			emit(f.read())

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("netstate watcher error", "err", err)
		}
	}
}

// read parses the state file. Any failure reports disconnected rather
// than propagating: connectivity uncertainty must never crash the caller.
func (f *FileSource) read() State {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			f.logger.Warn("failed to read netstate file", "path", f.path, "err", err)
		}
		return State{Connected: false, InternetReachable: ReachabilityUnknown}
	}

	var raw netStateFile
	if err := json.Unmarshal(data, &raw); err != nil {
		f.logger.Warn("invalid netstate file", "path", f.path, "err", err)
		return State{Connected: false, InternetReachable: ReachabilityUnknown}
	}

	s := State{Connected: raw.Connected, InternetReachable: ReachabilityUnknown}
	if raw.InternetReachable != nil {
		if *raw.InternetReachable {
			s.InternetReachable = ReachabilityReachable
		} else {
			s.InternetReachable = ReachabilityUnreachable
		}
	}
	return s
}
