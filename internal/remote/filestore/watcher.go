package filestore

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ChangeEvent signals that the document or a photo changed on disk,
// typically because an external tool (another app instance, a folder
// sync client) touched the store directory.
type ChangeEvent struct {
	// Path is the path of the file that changed.
	Path string
	// Photo is true when the change is under photos/ rather than the
	// document itself.
	Photo bool
	// Op is the operation that occurred.
	Op EventOp
}

// Watcher watches a folder-backed store for external changes.
//
// Self-inflicted events are not filtered here: the engine's debounce and
// the gateway's consistency-token check make an echo of our own write a
// cheap no-op, so consumers can treat every event as a sync trigger.
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan ChangeEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	dir     string
}

// NewWatcher creates a watcher for the given store. It must be started
// with Start() before it emits events.
func NewWatcher(store *Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher: fsw,
		events:  make(chan ChangeEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		dir:     store.Dir(),
	}, nil
}

// Start begins watching the store directory and its photos subdirectory.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch store directory %s: %w", w.dir, err)
	}

	photos := filepath.Join(w.dir, photosDir)
	if err := w.watcher.Add(photos); err != nil {
		w.watcher.Remove(w.dir)
		return fmt.Errorf("failed to watch photos directory %s: %w", photos, err)
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	return nil
}

// Stop stops watching and cleans up resources. It blocks until the event
// processing goroutine has exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()

	close(w.events)
	close(w.errors)

	return nil
}

// Events returns the channel that emits change notifications.
// This channel is closed when the watcher is stopped.
func (w *Watcher) Events() <-chan ChangeEvent {
	return w.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if ce, ok := w.convertEvent(event); ok {
				select {
				case w.events <- ce:
				case <-w.done:
					return
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// convertEvent converts an fsnotify event to a ChangeEvent. Only the
// document file and entries under photos/ are interesting; temp files
// from our own atomic writes and everything else are ignored.
func (w *Watcher) convertEvent(event fsnotify.Event) (ChangeEvent, bool) {
	photo, ok := w.classify(event.Name)
	if !ok {
		return ChangeEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// Treat rename as delete (the new name will trigger a create).
		op = OpDelete
	default:
		// Ignore chmod and other events.
		return ChangeEvent{}, false
	}

	return ChangeEvent{
		Path:  event.Name,
		Photo: photo,
		Op:    op,
	}, true
}

// classify reports whether the path is the document (photo=false) or a
// photo blob (photo=true). The second return is false for paths that
// should be ignored.
func (w *Watcher) classify(path string) (bool, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, false
	}
	absDir, _ := filepath.Abs(w.dir)

	dir := filepath.Dir(abs)
	base := filepath.Base(abs)

	if dir == absDir {
		if base == documentName {
			return false, true
		}
		return false, false
	}
	if dir == filepath.Join(absDir, photosDir) {
		return true, true
	}
	return false, false
}
