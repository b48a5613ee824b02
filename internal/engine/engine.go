package engine

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/taskvault/taskvault/internal/config"
	"github.com/taskvault/taskvault/internal/remote"
	"github.com/taskvault/taskvault/internal/resolve"
	"github.com/taskvault/taskvault/internal/store"
	"github.com/taskvault/taskvault/internal/task"
)

// Subscriber receives a status snapshot on every observable change.
// Callbacks run on the engine's goroutines and must not block.
type Subscriber func(Snapshot)

// Engine is the sync scheduler. Create one with New and stop it with
// Close or Logout.
type Engine struct {
	gw     *remote.Gateway
	kv     store.KV
	cfg    *config.Config
	logger *log.Logger

	mu       sync.Mutex
	doc      []task.Record   // local mirror, tombstones included
	deleted  map[string]bool // ids deleted locally since last successful sync
	status   Status
	lastSync time.Time
	lastErr  error
	bundle   *ConflictBundle
	rollback []task.Record // last successfully written document
	queue    []queueOp
	draining bool
	inFlight bool
	online   bool
	closed   bool

	debounce *time.Timer
	subs     []Subscriber

	// injectable for tests
	nowFn    func() time.Time
	jitterFn func() time.Duration
}

// New creates an engine over the given gateway and durable store. The
// document mirror is loaded from the store so edits made before a crash
// survive. The engine starts offline; the host reports connectivity via
// SetOnline.
func New(gw *remote.Gateway, kv store.KV, cfg *config.Config, logger *log.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	e := &Engine{
		gw:     gw,
		kv:     kv,
		cfg:    cfg,
		logger: logger,
		status: StatusIdle,
		nowFn:  time.Now,
	}
	e.jitterFn = func() time.Duration {
		if cfg.DebounceJitter <= 0 {
			return 0
		}
		return rand.N(cfg.DebounceJitter)
	}

	doc, err := store.LoadMirror(kv, e.nowFn().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to load document mirror: %w", err)
	}
	e.doc = doc

	// Deletes made before a crash must not be undone by the remote's
	// still-active copy on the next sync.
	deleted, err := store.LoadPendingDeletes(kv)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending deletes: %w", err)
	}
	e.deleted = deleted

	return e, nil
}

// Subscribe registers a status callback and immediately delivers the
// current snapshot.
func (e *Engine) Subscribe(fn Subscriber) {
	e.mu.Lock()
	e.subs = append(e.subs, fn)
	snap := e.snapshotLocked()
	e.mu.Unlock()
	fn(snap)
}

// Snapshot returns the current status surface.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	s := Snapshot{
		Status:       e.status,
		LastSyncTime: e.lastSync,
		Online:       e.online,
		Queue: QueueStatus{
			Count:        len(e.queue),
			IsProcessing: e.draining,
		},
		HasConflict: e.bundle != nil,
	}
	if len(e.queue) > 0 {
		s.Queue.Oldest = e.queue[0].EnqueuedAt
	}
	if e.lastErr != nil {
		s.Error = e.lastErr.Error()
	}
	return s
}

// notifyLocked snapshots state and fans it out to subscribers outside
// the lock. Callers must hold e.mu; the lock is reacquired before
// returning so callers can keep using it.
func (e *Engine) notifyLocked() {
	snap := e.snapshotLocked()
	subs := make([]Subscriber, len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
	e.mu.Lock()
}

// Records returns a copy of the local document, tombstones included.
func (e *Engine) Records() []task.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]task.Record, len(e.doc))
	copy(out, e.doc)
	return out
}

// ConflictState returns the pending conflict bundle, or nil.
func (e *Engine) ConflictState() *ConflictBundle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bundle
}

// RollbackDocument returns the most recently successfully written
// document, for the UI to revert to when it cannot repair a failure.
func (e *Engine) RollbackDocument() []task.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]task.Record, len(e.rollback))
	copy(out, e.rollback)
	return out
}

// Upsert applies a user edit to the local mirror and schedules a sync.
// New records are added; an existing record with the same id is
// replaced. LastModified is stamped and absent fields are defaulted
// here, so callers pass content only.
func (e *Engine) Upsert(r task.Record) error {
	now := e.nowFn().UnixMilli()
	if r.Timestamp <= 0 {
		r.Timestamp = now
	}
	r = task.Sanitize(r)
	r = task.Touch(r, now)
	if err := r.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	replaced := false
	for i := range e.doc {
		if e.doc[i].ID == r.ID {
			e.doc[i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		e.doc = append(e.doc, r)
	}
	// A re-created id supersedes any pending local delete.
	delete(e.deleted, r.ID)

	if err := e.persistLocked(now); err != nil {
		return err
	}
	e.armDebounceLocked()
	return nil
}

// Delete converts a record to a tombstone and schedules a sync.
// Deleting an unknown id is a no-op.
func (e *Engine) Delete(id string) error {
	now := e.nowFn().UnixMilli()

	e.mu.Lock()
	defer e.mu.Unlock()

	found := false
	for i := range e.doc {
		if e.doc[i].ID == id {
			if e.doc[i].Deleted {
				return nil
			}
			e.doc[i] = task.Tombstone(e.doc[i], now)
			found = true
			break
		}
	}
	if !found {
		return nil
	}
	e.deleted[id] = true

	if err := e.persistLocked(now); err != nil {
		return err
	}
	e.armDebounceLocked()
	return nil
}

// persistLocked writes the mirror, the pending-delete set and the
// last-local-modified timestamp to the durable store. Runs before any
// network activity so a crash between edit and sync loses nothing.
func (e *Engine) persistLocked(nowMs int64) error {
	if err := store.SaveMirror(e.kv, e.doc); err != nil {
		return fmt.Errorf("failed to persist mirror: %w", err)
	}
	if err := store.SavePendingDeletes(e.kv, e.deleted); err != nil {
		return fmt.Errorf("failed to persist pending deletes: %w", err)
	}
	if err := store.SetInt64(e.kv, store.KeyLastLocalModified, nowMs); err != nil {
		return fmt.Errorf("failed to persist edit timestamp: %w", err)
	}
	return nil
}

// NotifyChange (re)arms the debounced save without changing the mirror.
// Hosts call this when an external signal (folder watcher, push hint)
// suggests the remote may have moved.
func (e *Engine) NotifyChange() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.armDebounceLocked()
}

func (e *Engine) armDebounceLocked() {
	if e.closed {
		return
	}
	delay := e.cfg.DebounceBase + e.jitterFn()
	if e.debounce != nil {
		e.debounce.Stop()
	}
	e.debounce = time.AfterFunc(delay, e.debounceFired)
}

// CancelPending discards the pending debounced save. The next edit
// rearms it.
func (e *Engine) CancelPending() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
}

func (e *Engine) debounceFired() {
	e.mu.Lock()
	if e.closed || e.bundle != nil {
		// Writes stay paused while a conflict awaits resolution.
		e.mu.Unlock()
		return
	}
	if !e.online {
		e.enqueueSaveLocked()
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if err := e.runPipeline(context.Background()); err != nil {
		e.logger.Printf("sync failed: %v", err)
	}
}

// enqueueSaveLocked adds a SAVE to the offline queue. Consecutive saves
// coalesce: the save writes whatever the mirror holds at drain time, so
// a second pending save adds nothing.
func (e *Engine) enqueueSaveLocked() {
	if n := len(e.queue); n == 0 || e.queue[n-1].Kind != opSave {
		e.queue = append(e.queue, newSaveOp(e.nowFn()))
	}
	e.setStatusLocked(StatusQueued, nil)
}

// SaveNow bypasses the debounce and runs the pipeline immediately.
// Offline, it enqueues like an elapsed debounce would.
func (e *Engine) SaveNow(ctx context.Context) error {
	e.mu.Lock()
	if !e.online {
		e.enqueueSaveLocked()
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	return e.runPipeline(ctx)
}

// SetOnline reports connectivity. A false→true edge with a non-empty
// queue starts a drain.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	wasOffline := !e.online
	e.online = online
	drain := online && wasOffline && len(e.queue) > 0 && !e.draining
	if drain {
		e.draining = true
	}
	e.notifyLocked()
	e.mu.Unlock()

	if drain {
		go e.drain()
	}
}

// Online reports the last connectivity state the host set.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// drain processes the offline queue in FIFO order. A failed operation
// stays at the head for the next reconnect or edit.
func (e *Engine) drain() {
	defer func() {
		e.mu.Lock()
		e.draining = false
		e.notifyLocked()
		e.mu.Unlock()
	}()

	for {
		e.mu.Lock()
		if e.closed || !e.online || len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		op := e.queue[0]
		e.mu.Unlock()

		ran, err := e.tryRunPipeline(context.Background())
		if err != nil {
			e.logger.Printf("queued %s %s failed, leaving at head: %v", op.Kind, op.ID, err)
			return
		}
		if !ran {
			// Another pipeline holds the slot; its outcome is unknown,
			// so the queued operation stays for the next drain.
			e.logger.Printf("sync in flight, leaving queued %s %s", op.Kind, op.ID)
			return
		}

		e.mu.Lock()
		if len(e.queue) > 0 && e.queue[0].ID == op.ID {
			e.queue = e.queue[1:]
		}
		e.notifyLocked()
		e.mu.Unlock()
	}
}

// runPipeline executes one sync pass: collect local state, read remote,
// resolve, write. Reentrant calls while a pass is in flight are no-ops.
func (e *Engine) runPipeline(ctx context.Context) error {
	_, err := e.tryRunPipeline(ctx)
	return err
}

// tryRunPipeline runs one sync pass if no other pass is in flight.
// ran reports whether this call performed the pass; callers that treat
// success as completion (the queue drain) must not confuse a reentrant
// no-op with a successful sync.
func (e *Engine) tryRunPipeline(ctx context.Context) (ran bool, err error) {
	e.mu.Lock()
	if e.inFlight || e.closed {
		e.mu.Unlock()
		return false, nil
	}
	e.inFlight = true
	e.setStatusLocked(StatusSyncing, nil)

	// Local state is captured before the remote read so the resolver's
	// inputs describe one consistent moment.
	startMs := e.nowFn().UnixMilli()
	local := task.ActiveOnly(e.doc)
	deleted := make(map[string]bool, len(e.deleted))
	for id := range e.deleted {
		deleted[id] = true
	}
	e.mu.Unlock()

	err = e.syncOnce(ctx, local, deleted, startMs)

	e.mu.Lock()
	e.inFlight = false
	e.mu.Unlock()
	return true, err
}

func (e *Engine) syncOnce(ctx context.Context, local []task.Record, deleted map[string]bool, startMs int64) error {
	// A write rejected with a concurrency conflict means another device
	// won the race; one re-read and re-resolve picks up its changes.
	for attempt := 0; ; attempt++ {
		doc, err := e.gw.ReadDocument(ctx)
		if err != nil {
			return e.failPipeline(fmt.Errorf("remote read failed: %w", err))
		}

		nowMs := e.nowFn().UnixMilli()
		result := resolve.Resolve(local, doc.Records, deleted, nowMs, resolve.OptionsFrom(e.cfg))

		if len(result.Conflicts) > 0 {
			e.mu.Lock()
			e.bundle = &ConflictBundle{
				Conflicts:      result.Conflicts,
				LocalSnapshot:  local,
				RemoteSnapshot: doc.Records,
				Timestamp:      nowMs,
			}
			e.setStatusLocked(StatusConflict, nil)
			e.mu.Unlock()
			return nil
		}

		token, err := e.gw.WriteDocument(ctx, result.Records)
		if err != nil {
			if remote.Classify(err) == remote.KindConflict && attempt == 0 {
				e.logger.Printf("remote moved during write, re-reading")
				continue
			}
			return e.failPipeline(fmt.Errorf("remote write failed: %w", err))
		}

		e.commitSync(result.Records, token, deleted, startMs)
		return nil
	}
}

// commitSync records a successful write: the resolved document becomes
// the mirror and the rollback reference, and the processed deletions
// leave the pending set. Edits that landed after the pipeline captured
// its inputs are overlaid back onto the mirror; the rearmed debounce
// syncs them on the next pass.
func (e *Engine) commitSync(records []task.Record, token string, processed map[string]bool, startMs int64) {
	nowMs := e.nowFn().UnixMilli()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.doc = e.overlayLateEditsLocked(records, startMs)
	e.rollback = records
	for id := range processed {
		delete(e.deleted, id)
	}
	e.lastSync = e.nowFn()

	if err := store.SaveMirror(e.kv, e.doc); err != nil {
		e.logger.Printf("failed to persist mirror after sync: %v", err)
	}
	if err := store.SavePendingDeletes(e.kv, e.deleted); err != nil {
		e.logger.Printf("failed to persist pending deletes after sync: %v", err)
	}
	if err := e.kv.Set(store.KeyLastRemoteSync, token); err != nil {
		e.logger.Printf("failed to persist sync token: %v", err)
	}
	if err := store.SetInt64(e.kv, store.KeyLastLocalModified, nowMs); err != nil {
		e.logger.Printf("failed to persist edit timestamp: %v", err)
	}

	e.setStatusLocked(StatusSynced, nil)
}

// overlayLateEditsLocked merges records edited at or after startMs from
// the current mirror onto the freshly resolved set.
func (e *Engine) overlayLateEditsLocked(records []task.Record, startMs int64) []task.Record {
	late := make(map[string]task.Record)
	for _, cur := range e.doc {
		if cur.LastModified >= startMs {
			late[cur.ID] = cur
		}
	}
	if len(late) == 0 {
		return records
	}

	out := make([]task.Record, 0, len(records)+len(late))
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		if l, ok := late[r.ID]; ok {
			r = l
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	for _, cur := range e.doc {
		if !seen[cur.ID] && cur.LastModified >= startMs {
			out = append(out, cur)
		}
	}
	return out
}

// failPipeline maps a pipeline error onto the status machine. Going
// offline mid-flight requeues the save instead of failing it.
func (e *Engine) failPipeline(err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.online {
		e.enqueueSaveLocked()
		return err
	}
	e.setStatusLocked(StatusError, err)
	return err
}

func (e *Engine) setStatusLocked(s Status, err error) {
	e.status = s
	e.lastErr = err
	e.notifyLocked()
}

// Logout tears the session down: pending timers and queue entries are
// dropped, the gateway caches (including blob object URLs) are cleared,
// and the manual-logout flag is persisted so the host does not
// re-authenticate silently on next start. The local mirror stays; it
// holds the user's own data on their own device.
func (e *Engine) Logout() error {
	e.mu.Lock()
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
	e.queue = nil
	e.bundle = nil
	e.deleted = make(map[string]bool)
	e.rollback = nil
	e.setStatusLocked(StatusIdle, nil)
	e.mu.Unlock()

	remote.ResetCache()

	if err := store.SetBool(e.kv, store.KeyManualLogout, true); err != nil {
		return fmt.Errorf("failed to persist logout flag: %w", err)
	}
	if err := e.kv.Remove(store.KeyLastRemoteSync); err != nil {
		return fmt.Errorf("failed to clear sync token: %w", err)
	}
	if err := e.kv.Remove(store.KeyPendingDeletes); err != nil {
		return fmt.Errorf("failed to clear pending deletes: %w", err)
	}
	return nil
}

// Close stops timers and detaches subscribers. The engine cannot be
// reused after Close.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
	e.subs = nil
}
