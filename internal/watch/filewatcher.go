// Package watch turns filesystem notifications for registered folders into
// catalog mutations.
//
// A FileWatcher wraps fsnotify and normalizes its events. ArticleWatcher and
// PictureIngester each own one FileWatcher and process its events on a single
// goroutine, so events for the same folder are applied in the order received.
package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Op is a normalized filesystem operation.
type Op int

const (
	// OpCreate indicates a new file or directory.
	OpCreate Op = iota
	// OpModify indicates changed contents. A Modify carrying two paths is a
	// rename from Paths[0] to Paths[1].
	OpModify
	// OpRemove indicates a file left the folder.
	OpRemove
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event is one normalized notification. Paths holds one path, or two for a
// rename reported as a single Modify.
type Event struct {
	Op    Op
	Paths []string
}

// Path returns the path the event applies to. For a rename that is the new
// name.
func (e Event) Path() string {
	if len(e.Paths) == 0 {
		return ""
	}
	return e.Paths[len(e.Paths)-1]
}

// FileWatcher watches a directory, optionally with all of its descendants.
// It must be started with Start() before it will emit events.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	events    chan Event
	errors    chan error
	done      chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
	recursive bool
}

// NewFileWatcher creates a new FileWatcher instance. When recursive is set,
// every directory under the root is watched, including ones created later.
func NewFileWatcher(recursive bool) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher:   watcher,
		events:    make(chan Event, 100),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
		recursive: recursive,
	}, nil
}

// Start begins watching root.
func (fw *FileWatcher) Start(root string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	if err := fw.add(root); err != nil {
		return err
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// add watches dir and, when recursive, its subdirectories.
func (fw *FileWatcher) add(dir string) error {
	if !fw.recursive {
		if err := fw.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
		return nil
	}

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
		return nil
	})
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return fw.watcher.Close()
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)

	// Close the underlying watcher (this will unblock the event loop)
	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)

	return nil
}

// Events returns the channel that emits normalized events.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Events() <-chan Event {
	return fw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			ev, ok := convertEvent(event)
			if !ok {
				continue
			}
			if fw.recursive && ev.Op == OpCreate {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := fw.add(event.Name); err != nil {
						fw.sendError(err)
					}
				}
			}

			select {
			case fw.events <- ev:
			case <-fw.done:
				return
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.sendError(err)
		}
	}
}

func (fw *FileWatcher) sendError(err error) {
	select {
	case fw.errors <- err:
	case <-fw.done:
	}
}

// convertEvent maps an fsnotify event onto an Event. fsnotify reports a
// rename as Rename on the old name followed by Create on the new one, so
// Rename becomes a Remove. Chmod is dropped.
func convertEvent(event fsnotify.Event) (Event, bool) {
	var op Op
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpRemove
	case event.Has(fsnotify.Rename):
		op = OpRemove
	default:
		return Event{}, false
	}

	return Event{Op: op, Paths: []string{event.Name}}, true
}
