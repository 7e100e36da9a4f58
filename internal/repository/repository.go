// Package repository is the façade the rest of the system talks to: it
// keeps the archive in memory, merges imports into it, and drives the
// persistence backend.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/chatvault-io/chatvault/internal/model"
	"github.com/chatvault-io/chatvault/internal/store"
)

// Observer is notified after the archive changes. Notifications run
// synchronously, after the mutation and its store write succeeded. The
// registry is scoped to one Repository instance; there is no process-wide
// event bus.
type Observer interface {
	ArchiveChanged(Change)
}

// Op names the kind of archive mutation a Change reports.
type Op string

const (
	OpSave  Op = "save"
	OpClear Op = "clear"
)

// Change describes one successful archive mutation.
type Change struct {
	Op    Op
	Added int // conversations newly added by a save
	Total int // archive size after the mutation
}

// Repository owns the in-memory archive and the storage backend behind it.
// The mutex keeps the map consistent under concurrent callers; overlapping
// save cycles still resolve last-writer-wins at the store, which writes the
// whole archive each time.
type Repository struct {
	store  store.Store
	logger *slog.Logger

	mu           sync.Mutex
	convs        map[string]model.Conversation
	observers    map[int]Observer
	nextObserver int
}

// New opens the repository over st, loading the persisted archive into
// memory once. Reads are served from memory afterwards.
func New(ctx context.Context, st store.Store, logger *slog.Logger) (*Repository, error) {
	convs, err := st.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load archive: %w", err)
	}

	r := &Repository{
		store:     st,
		logger:    logger,
		convs:     make(map[string]model.Conversation, len(convs)),
		observers: make(map[int]Observer),
	}
	for _, c := range convs {
		r.convs[c.ID] = c
	}

	logger.Info("archive loaded", "backend", st.Name(), "conversations", len(r.convs))
	return r, nil
}

// SaveConversations merges a batch into the archive. Conversations whose id
// is already present are dropped; the returned count is what actually got
// added, so importing the same export twice reports 0 the second time.
//
// With persist=false the merge stays in memory and will not survive a
// restart. Note that a later persisted save writes the whole archive,
// unpersisted entries included; callers keeping throwaway imports out of
// storage should clear them first.
func (r *Repository) SaveConversations(ctx context.Context, list []model.Conversation, persist bool) (int, error) {
	r.mu.Lock()

	seen := make(map[string]bool, len(list))
	var fresh []model.Conversation
	for _, c := range list {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		if _, exists := r.convs[c.ID]; exists {
			continue
		}
		fresh = append(fresh, c)
	}

	if len(fresh) == 0 {
		r.mu.Unlock()
		return 0, nil
	}

	for _, c := range fresh {
		r.convs[c.ID] = c
	}

	if persist {
		if err := r.store.SaveAll(ctx, r.snapshotLocked()); err != nil {
			// Keep memory and store in agreement: a refused write takes
			// the batch back out.
			for _, c := range fresh {
				delete(r.convs, c.ID)
			}
			r.mu.Unlock()
			return 0, fmt.Errorf("persist archive: %w", err)
		}
	}

	total := len(r.convs)
	obs := r.observersLocked()
	r.mu.Unlock()

	r.logger.Info("conversations saved",
		"added", len(fresh),
		"total", total,
		"persisted", persist,
	)
	notify(obs, Change{Op: OpSave, Added: len(fresh), Total: total})
	return len(fresh), nil
}

// LoadConversations returns the archive ordered newest first. The archive
// lives in memory once New has loaded it, so this never touches the store.
func (r *Repository) LoadConversations() []model.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Conversation looks up a single conversation by id.
func (r *Repository) Conversation(id string) (model.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	return c, ok
}

// ClearConversations empties both the in-memory archive and the store.
func (r *Repository) ClearConversations(ctx context.Context) error {
	r.mu.Lock()
	if err := r.store.Clear(ctx); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("clear store: %w", err)
	}
	r.convs = make(map[string]model.Conversation)
	obs := r.observersLocked()
	r.mu.Unlock()

	r.logger.Info("archive cleared")
	notify(obs, Change{Op: OpClear})
	return nil
}

// Count returns the number of conversations in the archive.
func (r *Repository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.convs)
}

// Backend names the storage backend chosen at startup.
func (r *Repository) Backend() string {
	return r.store.Name()
}

// StorageSize reports the backend's on-disk footprint in bytes.
func (r *Repository) StorageSize(ctx context.Context) (int64, error) {
	return r.store.SizeBytes(ctx)
}

// Subscribe registers an observer and returns the function that removes it
// again. Observers registered at the time of a mutation all get called;
// ordering between them is unspecified.
func (r *Repository) Subscribe(o Observer) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextObserver
	r.nextObserver++
	r.observers[id] = o
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.observers, id)
	}
}

func (r *Repository) Close() error {
	return r.store.Close()
}

// snapshotLocked returns the archive ordered by update time, newest first,
// with the id as tiebreaker. Callers must hold mu.
func (r *Repository) snapshotLocked() []model.Conversation {
	out := make([]model.Conversation, 0, len(r.convs))
	for _, c := range r.convs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Updated.Time, out[j].Updated.Time
		if !a.Equal(b) {
			return a.After(b)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Repository) observersLocked() []Observer {
	out := make([]Observer, 0, len(r.observers))
	for _, o := range r.observers {
		out = append(out, o)
	}
	return out
}

// notify runs outside the mutex so observers may call back into the
// repository.
func notify(obs []Observer, ch Change) {
	for _, o := range obs {
		o.ArchiveChanged(ch)
	}
}
