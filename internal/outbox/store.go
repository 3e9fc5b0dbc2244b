package outbox

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"fleet-monitor/sentinel/internal/domain"
	"fleet-monitor/sentinel/internal/metrics"
)

const (
	queueKey      = "outbox:queue"
	quarantineKey = "outbox:quarantine"
)

// Store holds the active queue and the quarantine list. Every mutation
// is written to the KV before the lock is released, so the durable copy
// never lags what callers have observed.
type Store struct {
	mu         sync.Mutex
	kv         KV
	queue      []domain.QueuedAction
	quarantine []domain.QueuedAction
}

func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// Load restores both lists from the KV. Missing keys mean empty lists.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue, err := s.read(queueKey)
	if err != nil {
		return err
	}
	quarantine, err := s.read(quarantineKey)
	if err != nil {
		return err
	}
	s.queue, s.quarantine = queue, quarantine
	s.gauge()
	return nil
}

func (s *Store) read(key string) ([]domain.QueuedAction, error) {
	raw, err := s.kv.Get(key)
	if err != nil {
		return nil, &domain.StorageError{Key: key, Err: err}
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var out []domain.QueuedAction
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &domain.StorageError{Key: key, Err: fmt.Errorf("decode: %w", err)}
	}
	return out, nil
}

// persist must be called with mu held.
func (s *Store) persist() error {
	queue, err := json.Marshal(nonNil(s.queue))
	if err != nil {
		return &domain.StorageError{Key: queueKey, Err: err}
	}
	quarantine, err := json.Marshal(nonNil(s.quarantine))
	if err != nil {
		return &domain.StorageError{Key: quarantineKey, Err: err}
	}
	if err := s.kv.Write(map[string][]byte{
		queueKey:      queue,
		quarantineKey: quarantine,
	}); err != nil {
		return &domain.StorageError{Key: queueKey, Err: err}
	}
	s.gauge()
	return nil
}

func (s *Store) gauge() {
	metrics.OutboxDepth.Set(float64(len(s.queue)))
	metrics.QuarantineDepth.Set(float64(len(s.quarantine)))
}

func nonNil(l []domain.QueuedAction) []domain.QueuedAction {
	if l == nil {
		return []domain.QueuedAction{}
	}
	return l
}

// Insert puts critical actions at the head and the rest at the tail.
// If the write fails the queue is left as it was.
func (s *Store) Insert(a domain.QueuedAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.queue
	s.queue = place(s.queue, a)
	if err := s.persist(); err != nil {
		s.queue = prev
		return err
	}
	return nil
}

// place returns q with a added at its priority position. The result
// never shares a backing array with q, so q stays valid for rollback.
func place(q []domain.QueuedAction, a domain.QueuedAction) []domain.QueuedAction {
	if a.Priority == domain.PriorityCritical {
		return append([]domain.QueuedAction{a}, q...)
	}
	return append(slices.Clip(q), a)
}

// Pending returns a copy of the active queue in processing order.
func (s *Store) Pending() []domain.QueuedAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.queue)
}

// Quarantined returns a copy of the quarantine list.
func (s *Store) Quarantined() []domain.QueuedAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.quarantine)
}

func (s *Store) Len() (queued, quarantined int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue), len(s.quarantine)
}

// outcome is what one sync pass decided, keyed by action id.
type outcome struct {
	synced      map[string]bool
	updated     map[string]domain.QueuedAction
	quarantined map[string]bool
}

func newOutcome() *outcome {
	return &outcome{
		synced:      make(map[string]bool),
		updated:     make(map[string]domain.QueuedAction),
		quarantined: make(map[string]bool),
	}
}

func (o *outcome) empty() bool {
	return len(o.synced) == 0 && len(o.updated) == 0
}

// apply folds a pass outcome into the current queue. Entries enqueued
// during the pass are untouched. On a failed write the in-memory state
// keeps the outcome and the next successful write catches the KV up.
func (s *Store) apply(o *outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]domain.QueuedAction, 0, len(s.queue))
	for _, a := range s.queue {
		switch {
		case o.synced[a.ID]:
		case o.quarantined[a.ID]:
			s.quarantine = append(s.quarantine, o.updated[a.ID])
		default:
			if u, ok := o.updated[a.ID]; ok {
				a = u
			}
			next = append(next, a)
		}
	}
	s.queue = next
	return s.persist()
}

// Clear drops every active action. Quarantine is kept.
func (s *Store) Clear() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.queue)
	prev := s.queue
	s.queue = nil
	if err := s.persist(); err != nil {
		s.queue = prev
		return 0, err
	}
	return n, nil
}

// Requeue moves a quarantined action back into the queue at its
// priority position with a fresh retry budget.
func (s *Store) Requeue(id string) (domain.QueuedAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.quarantine, func(a domain.QueuedAction) bool { return a.ID == id })
	if i < 0 {
		return domain.QueuedAction{}, fmt.Errorf("quarantined action %s: %w", id, domain.ErrNotFound)
	}

	a := s.quarantine[i]
	a.Retries = 0
	a.NotBefore = time.Time{}
	a.LastError = ""

	prevQueue, prevQuarantine := s.queue, s.quarantine
	s.quarantine = slices.Delete(slices.Clone(s.quarantine), i, i+1)
	s.queue = place(s.queue, a)
	if err := s.persist(); err != nil {
		s.queue, s.quarantine = prevQueue, prevQuarantine
		return domain.QueuedAction{}, err
	}
	return a, nil
}
