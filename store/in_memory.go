// Package store provides the in-memory reference implementation of
// core.Store. It is safe for concurrent access and best suited for tests,
// examples and single-process deployments; durable backends implement the
// same interface.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kokoro-chat/kokoro/core"
)

// InMemoryStore keeps conversation logs, persona profiles, scheduled
// messages and calendar entries in process-local maps guarded by a single
// RWMutex. Message appends are serialized per store, which satisfies the
// per-key serialization contract. Reads return defensive copies.
type InMemoryStore struct {
	mu        sync.RWMutex
	logs      map[string][]core.Message // ConversationKey.String() -> ordered log
	keys      map[string]core.ConversationKey
	seqs      map[string]uint64
	personas  map[string]*core.PersonaProfile
	user      core.UserProfile
	groups    map[string]*core.GroupProfile
	scheduled map[string]core.ScheduledMessage
	events    []core.CalendarEvent
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		logs:      make(map[string][]core.Message),
		keys:      make(map[string]core.ConversationKey),
		seqs:      make(map[string]uint64),
		personas:  make(map[string]*core.PersonaProfile),
		groups:    make(map[string]*core.GroupProfile),
		scheduled: make(map[string]core.ScheduledMessage),
	}
}

// AppendMessage persists a message, assigning the per-conversation sequence
// number. Timestamps are clamped to be monotonic within a conversation so
// (Timestamp, Seq) remains a total order.
func (s *InMemoryStore) AppendMessage(_ context.Context, msg core.Message) (core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := msg.Conversation.String()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if log := s.logs[k]; len(log) > 0 {
		if last := log[len(log)-1].Timestamp; msg.Timestamp.Before(last) {
			msg.Timestamp = last
		}
	}
	s.seqs[k]++
	msg.Seq = s.seqs[k]
	s.logs[k] = append(s.logs[k], cloneMessage(msg))
	s.keys[k] = msg.Conversation
	return msg, nil
}

// Messages returns the conversation history filtered by the query.
func (s *InMemoryStore) Messages(_ context.Context, key core.ConversationKey, q core.MessageQuery) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[key.String()]
	out := make([]core.Message, 0, len(log))
	for _, m := range log {
		if q.Source != "*" && m.Source() != q.Source {
			continue
		}
		out = append(out, cloneMessage(m))
	}
	if q.TailLimit > 0 && len(out) > q.TailLimit {
		out = out[len(out)-q.TailLimit:]
	}
	return out, nil
}

// TrailingAssistantRun returns the trailing contiguous assistant messages.
func (s *InMemoryStore) TrailingAssistantRun(_ context.Context, key core.ConversationKey) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[key.String()]
	start := len(log)
	for start > 0 && log[start-1].Role == core.RoleAssistant {
		start--
	}
	run := make([]core.Message, 0, len(log)-start)
	for _, m := range log[start:] {
		run = append(run, cloneMessage(m))
	}
	return run, nil
}

// DeleteTrailingAssistantRun removes the trailing contiguous assistant run.
func (s *InMemoryStore) DeleteTrailingAssistantRun(_ context.Context, key core.ConversationKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	log := s.logs[k]
	start := len(log)
	for start > 0 && log[start-1].Role == core.RoleAssistant {
		start--
	}
	removed := len(log) - start
	s.logs[k] = log[:start]
	return removed, nil
}

// Conversations enumerates known conversation keys in stable label order.
func (s *InMemoryStore) Conversations(_ context.Context) ([]core.ConversationKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	labels := make([]string, 0, len(s.keys))
	for l := range s.keys {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	out := make([]core.ConversationKey, 0, len(labels))
	for _, l := range labels {
		out = append(out, s.keys[l])
	}
	return out, nil
}

// Persona returns a clone of the stored profile.
func (s *InMemoryStore) Persona(_ context.Context, id string) (*core.PersonaProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.personas[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// SeedPersona stores a full profile, overwriting any existing one. Intended
// for setup paths (user edits, imports, tests).
func (s *InMemoryStore) SeedPersona(p core.PersonaProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.personas[p.ID] = &cp
	// A persona implies its one-to-one conversation exists.
	key := core.OneToOne(p.ID)
	s.keys[key.String()] = key
}

// PutPersona applies a partial update; nil patch fields are untouched.
func (s *InMemoryStore) PutPersona(_ context.Context, id string, patch core.PersonaPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.personas[id]
	if !ok {
		return core.ErrNotFound
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Instructions != nil {
		p.Instructions = *patch.Instructions
	}
	if patch.Worldview != nil {
		p.Worldview = *patch.Worldview
	}
	if patch.Memory != nil {
		p.Memory = *patch.Memory
	}
	if patch.Impression != nil {
		imp := *patch.Impression
		p.Impression = &imp
	}
	return nil
}

// UserProfile returns the stored user profile.
func (s *InMemoryStore) UserProfile(_ context.Context) (core.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, nil
}

// SeedUserProfile stores the user profile.
func (s *InMemoryStore) SeedUserProfile(u core.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
}

// Group returns a clone of the stored group profile.
func (s *InMemoryStore) Group(_ context.Context, id string) (*core.GroupProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *g
	cp.MemberIDs = append([]string(nil), g.MemberIDs...)
	return &cp, nil
}

// SeedGroup stores a group profile.
func (s *InMemoryStore) SeedGroup(g core.GroupProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := g
	cp.MemberIDs = append([]string(nil), g.MemberIDs...)
	s.groups[g.ID] = &cp
	key := core.GroupKey(g.ID)
	s.keys[key.String()] = key
}

// PutScheduled persists a scheduled message.
func (s *InMemoryStore) PutScheduled(_ context.Context, sm core.ScheduledMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[sm.ID] = sm
	s.keys[sm.Conversation.String()] = sm.Conversation
	return nil
}

// DueScheduled returns due messages ordered by (DueAt, CreatedAt).
func (s *InMemoryStore) DueScheduled(_ context.Context, key core.ConversationKey, now time.Time) ([]core.ScheduledMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []core.ScheduledMessage
	for _, sm := range s.scheduled {
		if sm.Conversation == key && !sm.DueAt.After(now) {
			due = append(due, sm)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].DueAt.Equal(due[j].DueAt) {
			return due[i].DueAt.Before(due[j].DueAt)
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	return due, nil
}

// DeleteScheduled removes a scheduled message, reporting ErrNotFound when
// it was already consumed. The daemon relies on this for at-most-once
// promotion.
func (s *InMemoryStore) DeleteScheduled(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scheduled[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.scheduled, id)
	return nil
}

// PutEvent persists a calendar entry.
func (s *InMemoryStore) PutEvent(_ context.Context, ev core.CalendarEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of all calendar entries (test/inspection helper).
func (s *InMemoryStore) Events() []core.CalendarEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.CalendarEvent(nil), s.events...)
}

func cloneMessage(m core.Message) core.Message {
	if m.Metadata != nil {
		md := make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			md[k] = v
		}
		m.Metadata = md
	}
	return m
}
