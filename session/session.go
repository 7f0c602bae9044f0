// Package session drives one-to-one conversation turns: it assembles the
// prompt, calls the model, decodes directives, segments prose into bubbles
// and persists everything in order. A per-conversation in-flight lock keeps
// turns strictly sequential; concurrent sends fail fast with
// ErrGenerationInFlight instead of queueing.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/kokoro-chat/kokoro/core"
	"github.com/kokoro-chat/kokoro/emoji"
	"github.com/kokoro-chat/kokoro/logging"
	"github.com/kokoro-chat/kokoro/model"
	"github.com/kokoro-chat/kokoro/segment"
)

// ErrGenerationInFlight is returned when a turn is requested for a
// conversation that already has one running.
var ErrGenerationInFlight = core.ErrGenerationInFlight

// Options configure a Manager.
type Options struct {
	// Temperature forwarded to the model (0 uses the model default).
	Temperature float64
	// MaxTokens forwarded to the model (0 uses the model default).
	MaxTokens int64
	// HistoryLimit caps how many trailing messages enter the context window.
	HistoryLimit int
	// TimeGapHint injects an elapsed-time hint when the last message is older
	// than this. Zero disables the hint.
	TimeGapHint time.Duration
	// Delay computes the simulated typing pause before each bubble.
	Delay segment.DelayFunc
	// Clock supplies the current time; tests substitute a fixed clock.
	Clock func() time.Time
	// Emoji resolves SEND_EMOJI names. Nil drops every sticker.
	Emoji *emoji.Table
	// Logger receives engine diagnostics.
	Logger logging.Logger
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) func(o *Options) {
	return func(o *Options) { o.Temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int64) func(o *Options) {
	return func(o *Options) { o.MaxTokens = n }
}

// WithHistoryLimit caps the context window in messages.
func WithHistoryLimit(n int) func(o *Options) {
	return func(o *Options) { o.HistoryLimit = n }
}

// WithDelay sets the typing simulation function.
func WithDelay(fn segment.DelayFunc) func(o *Options) {
	return func(o *Options) { o.Delay = fn }
}

// WithClock substitutes the time source.
func WithClock(clock func() time.Time) func(o *Options) {
	return func(o *Options) { o.Clock = clock }
}

// WithEmojiTable sets the sticker table.
func WithEmojiTable(t *emoji.Table) func(o *Options) {
	return func(o *Options) { o.Emoji = t }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithTimeGapHint sets the elapsed-time threshold for the gap hint.
func WithTimeGapHint(d time.Duration) func(o *Options) {
	return func(o *Options) { o.TimeGapHint = d }
}

// Manager coordinates turns across conversations. It is safe for concurrent
// use; each conversation runs at most one turn at a time.
type Manager struct {
	store core.Store
	model model.Model
	opts  Options
	locks *core.InFlightLock
}

// NewManager creates a turn manager over the given store and model.
func NewManager(store core.Store, m model.Model, optFns ...func(o *Options)) *Manager {
	opts := Options{
		HistoryLimit: 50,
		TimeGapHint:  time.Hour,
		Delay:        segment.Delay,
		Clock:        time.Now,
		Emoji:        emoji.DefaultTable(),
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{store: store, model: m, opts: opts, locks: core.NewInFlightLock()}
}

// Send appends the user's text message and generates the persona's reply.
// The returned slice holds every message persisted by the turn, in order.
func (m *Manager) Send(ctx context.Context, characterID, text string) ([]core.Message, error) {
	key := core.OneToOne(characterID)
	if !m.locks.TryAcquire(key) {
		return nil, ErrGenerationInFlight
	}
	defer m.locks.Release(key)

	if _, err := m.store.AppendMessage(ctx, core.NewUserMessage(key, text)); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}
	return m.respond(ctx, key, characterID)
}

// SendImage appends a user image message and generates the persona's reply.
func (m *Manager) SendImage(ctx context.Context, characterID, imageURL string) ([]core.Message, error) {
	key := core.OneToOne(characterID)
	if !m.locks.TryAcquire(key) {
		return nil, ErrGenerationInFlight
	}
	defer m.locks.Release(key)

	msg := core.NewMessage(key, core.RoleUser, core.MessageImage, imageURL)
	if _, err := m.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append user image: %w", err)
	}
	return m.respond(ctx, key, characterID)
}

// Respond generates a reply from the existing history without appending a
// new user message. Used for proactive turns.
func (m *Manager) Respond(ctx context.Context, characterID string) ([]core.Message, error) {
	key := core.OneToOne(characterID)
	if !m.locks.TryAcquire(key) {
		return nil, ErrGenerationInFlight
	}
	defer m.locks.Release(key)

	return m.respond(ctx, key, characterID)
}

// Reroll discards the trailing run of assistant messages and regenerates
// from the same user turn.
func (m *Manager) Reroll(ctx context.Context, characterID string) ([]core.Message, error) {
	key := core.OneToOne(characterID)
	if !m.locks.TryAcquire(key) {
		return nil, ErrGenerationInFlight
	}
	defer m.locks.Release(key)

	removed, err := m.store.DeleteTrailingAssistantRun(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("discard previous reply: %w", err)
	}
	m.opts.Logger.Debug("reroll discarded messages", "conversation", key.String(), "count", removed)

	return m.respond(ctx, key, characterID)
}

func (m *Manager) respond(ctx context.Context, key core.ConversationKey, characterID string) ([]core.Message, error) {
	persona, err := m.store.Persona(ctx, characterID)
	if err != nil {
		return nil, fmt.Errorf("load persona %q: %w", characterID, err)
	}
	user, err := m.store.UserProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("load user profile: %w", err)
	}

	opts := m.opts
	if el, ok := opts.Logger.(*logging.EngineLogger); ok {
		opts.Logger = el.WithConversation(key.String()).WithRun(core.NewID())
	}

	r := &runner{
		store:   m.store,
		model:   m.model,
		opts:    opts,
		key:     key,
		persona: persona,
		user:    user,
		state:   StateIdle,
	}
	return r.run(ctx)
}
