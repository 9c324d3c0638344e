// Package agent – conversation.go implements the conversation store: one
// in-memory handle per conversation id with a single-writer lock, optional
// durable persistence, and TTL pruning of idle conversations.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultConversationTTL is how long an idle conversation stays in memory.
// Pruned conversations are reloaded from persistence on the next turn, so a
// pending approval survives eviction.
const DefaultConversationTTL = 24 * time.Hour

// Persister is the durable backend for conversations. Save replaces the
// whole conversation state atomically; a turn is only ever visible at its
// commit points.
type Persister interface {
	Save(c *Conversation) error
	Load(id string) (*Conversation, error) // (nil, nil) when absent
	Delete(id string) error
	Close() error
}

// handle pairs a committed conversation with its turn lock.
type handle struct {
	mu        sync.Mutex
	committed *Conversation
	lastUsed  time.Time
}

// ConversationStore manages conversation handles. At most one in-flight turn
// per conversation id; turns for different ids proceed fully in parallel.
type ConversationStore struct {
	mu        sync.Mutex
	handles   map[string]*handle
	persister Persister
	ttl       time.Duration
	logger    *slog.Logger
}

// NewConversationStore creates a store with optional persistence.
func NewConversationStore(p Persister, logger *slog.Logger) *ConversationStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationStore{
		handles:   make(map[string]*handle),
		persister: p,
		ttl:       DefaultConversationTTL,
		logger:    logger.With("component", "conversation_store"),
	}
}

// acquire locks the handle for id, loading from persistence or creating a
// fresh conversation when needed. The caller must call release when done.
func (s *ConversationStore) acquire(id string, modality Modality, contact string) (*handle, error) {
	s.mu.Lock()
	h, ok := s.handles[id]
	if !ok {
		h = &handle{}
		s.handles[id] = h
	}
	s.mu.Unlock()

	h.mu.Lock()
	h.lastUsed = time.Now()

	if h.committed == nil {
		if s.persister != nil {
			loaded, err := s.persister.Load(id)
			if err != nil {
				h.mu.Unlock()
				return nil, err
			}
			h.committed = loaded
		}
		if h.committed == nil {
			now := time.Now().UTC()
			h.committed = &Conversation{
				ID:                id,
				Modality:          modality,
				ContactIdentifier: contact,
				Pending:           make(map[string]*ToolCallRequest),
				Decisions:         make(map[string]ApprovalDecision),
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			s.logger.Info("conversation created", "conversation_id", id, "modality", modality)
		}
	}
	return h, nil
}

// acquireExisting locks the handle for id but never creates a conversation.
func (s *ConversationStore) acquireExisting(id string) (*handle, error) {
	s.mu.Lock()
	h, ok := s.handles[id]
	s.mu.Unlock()

	if ok {
		h.mu.Lock()
		h.lastUsed = time.Now()
		if h.committed != nil {
			return h, nil
		}
		h.mu.Unlock()
	}

	if s.persister == nil {
		return nil, ErrConversationNotFound
	}
	loaded, err := s.persister.Load(id)
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		return nil, ErrConversationNotFound
	}

	s.mu.Lock()
	h, ok = s.handles[id]
	if !ok {
		h = &handle{}
		s.handles[id] = h
	}
	s.mu.Unlock()

	h.mu.Lock()
	h.lastUsed = time.Now()
	if h.committed == nil {
		h.committed = loaded
	}
	return h, nil
}

// commit persists working and swaps it in as the committed state. On a
// persistence error the previous committed state stays in place.
func (s *ConversationStore) commit(h *handle, working *Conversation) error {
	if s.persister != nil {
		if err := s.persister.Save(working); err != nil {
			return err
		}
	}
	h.committed = working
	return nil
}

func (h *handle) release() {
	h.mu.Unlock()
}

// Snapshot returns a read-only copy of a conversation's committed state, or
// nil if unknown. A turn suspended on approval holds no lock, so the
// conversation stays readable for the whole approval window.
func (s *ConversationStore) Snapshot(id string) *Conversation {
	s.mu.Lock()
	h, ok := s.handles[id]
	s.mu.Unlock()
	if ok {
		h.mu.Lock()
		committed := h.committed
		h.mu.Unlock()
		if committed != nil {
			return committed.Clone()
		}
	}
	if s.persister != nil {
		if loaded, err := s.persister.Load(id); err == nil && loaded != nil {
			return loaded
		}
	}
	return nil
}

// Prune evicts idle in-memory handles past the TTL. Conversations with
// pending approvals remain evictable because their state is persisted.
func (s *ConversationStore) Prune() int {
	cutoff := time.Now().Add(-s.ttl)
	pruned := 0

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.handles {
		if !h.mu.TryLock() {
			continue // turn in flight
		}
		if h.lastUsed.Before(cutoff) {
			delete(s.handles, id)
			pruned++
		}
		h.mu.Unlock()
	}

	if pruned > 0 {
		s.logger.Info("idle conversations evicted", "pruned", pruned, "remaining", len(s.handles))
	}
	return pruned
}

// StartPruner runs Prune periodically until ctx is cancelled.
func (s *ConversationStore) StartPruner(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Prune()
			case <-ctx.Done():
				return
			}
		}
	}()
}
