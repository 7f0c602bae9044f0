// Package kokoro provides a high-level façade over the conversation engine:
// one-to-one persona sessions, group direction and the scheduled-message
// daemon behind a single handle. Most applications interact with this
// package by:
//  1. Creating an Engine via New() with a model adapter (openai, anthropic
//     or a mock), optionally overriding the default in-memory store
//  2. Seeding personas, the user profile and groups through the store
//  3. Sending turns with Send / SendToGroup and starting the scheduler
//
// The façade delegates the actual orchestration to the session, group and
// schedule packages. All defaults are safe for local development and
// testing; production deployments supply a durable core.Store, a real
// core.Notifier and a structured logger.
package kokoro

import (
	"context"
	"fmt"
	"time"

	"github.com/kokoro-chat/kokoro/config"
	"github.com/kokoro-chat/kokoro/core"
	"github.com/kokoro-chat/kokoro/emoji"
	"github.com/kokoro-chat/kokoro/group"
	"github.com/kokoro-chat/kokoro/logging"
	"github.com/kokoro-chat/kokoro/model"
	anthropicmodel "github.com/kokoro-chat/kokoro/model/anthropic"
	openaimodel "github.com/kokoro-chat/kokoro/model/openai"
	"github.com/kokoro-chat/kokoro/schedule"
	"github.com/kokoro-chat/kokoro/segment"
	"github.com/kokoro-chat/kokoro/session"
	"github.com/kokoro-chat/kokoro/store"
)

// Options configures the Engine instance.
type Options struct {
	// Store persists conversations, personas and scheduled messages
	// (defaults to the in-memory implementation if not provided).
	Store core.Store

	// Notifier delivers pushes for scheduled messages arriving while the
	// user is elsewhere (defaults to a no-op).
	Notifier core.Notifier

	// Emoji resolves SEND_EMOJI names (defaults to the built-in set).
	Emoji *emoji.Table

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger

	// Temperature and MaxTokens are forwarded to every completion.
	Temperature float64
	MaxTokens   int64

	// HistoryLimit caps the context window in messages.
	HistoryLimit int

	// TimeGapHint injects an elapsed-time hint after silences longer than
	// this. Zero disables the hint.
	TimeGapHint time.Duration

	// TypingDelay computes the pause before each bubble; segment.NoDelay
	// disables the simulation.
	TypingDelay segment.DelayFunc

	// ScheduleInterval is the scheduler poll cadence.
	ScheduleInterval time.Duration

	// Viewing reports whether the user has a conversation open, suppressing
	// pushes for messages promoted into it.
	Viewing func(key core.ConversationKey) bool

	// Clock supplies the current time; tests substitute a fixed clock.
	Clock func() time.Time
}

// Engine is the high-level façade aggregating sessions, group direction and
// the schedule daemon.
type Engine struct {
	opts     Options
	sessions *session.Manager
	director *group.Director
	daemon   *schedule.Daemon
}

// New creates a new Engine over the given model with optional overrides.
// Any unset collaborator is initialized with a safe default.
func New(m model.Model, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Store:            store.NewInMemoryStore(),
		Notifier:         core.NoOpNotifier{},
		Emoji:            emoji.DefaultTable(),
		Logger:           logging.NoOpLogger{},
		HistoryLimit:     50,
		TimeGapHint:      time.Hour,
		TypingDelay:      segment.Delay,
		ScheduleInterval: 5 * time.Second,
		Clock:            time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	sessions := session.NewManager(opts.Store, m,
		session.WithTemperature(opts.Temperature),
		session.WithMaxTokens(opts.MaxTokens),
		session.WithHistoryLimit(opts.HistoryLimit),
		session.WithTimeGapHint(opts.TimeGapHint),
		session.WithDelay(opts.TypingDelay),
		session.WithClock(opts.Clock),
		session.WithEmojiTable(opts.Emoji),
		session.WithLogger(opts.Logger),
	)
	director := group.NewDirector(opts.Store, m,
		group.WithTemperature(opts.Temperature),
		group.WithMaxTokens(opts.MaxTokens),
		group.WithHistoryLimit(opts.HistoryLimit),
		group.WithDelay(opts.TypingDelay),
		group.WithClock(opts.Clock),
		group.WithEmojiTable(opts.Emoji),
		group.WithLogger(opts.Logger),
	)

	daemonOpts := []func(o *schedule.Options){
		schedule.WithInterval(opts.ScheduleInterval),
		schedule.WithClock(opts.Clock),
		schedule.WithLogger(opts.Logger),
	}
	if opts.Viewing != nil {
		daemonOpts = append(daemonOpts, schedule.WithViewing(opts.Viewing))
	}
	daemon := schedule.NewDaemon(opts.Store, opts.Notifier, daemonOpts...)

	return &Engine{opts: opts, sessions: sessions, director: director, daemon: daemon}
}

// NewFromConfig builds an Engine from a loaded configuration, constructing
// the configured model backend and translating the engine settings into
// Options. Additional option functions are applied last and win.
func NewFromConfig(cfg *config.Config, optFns ...func(o *Options)) (*Engine, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	hint, err := cfg.TimeGapHint()
	if err != nil {
		return nil, err
	}
	interval, err := cfg.ScheduleInterval()
	if err != nil {
		return nil, err
	}

	var m model.Model
	switch cfg.Model.Provider {
	case "anthropic":
		var adapterOpts []func(o *anthropicmodel.Options)
		if cfg.Model.Name != "" {
			adapterOpts = append(adapterOpts, anthropicmodel.WithModel(cfg.Model.Name))
		}
		adapterOpts = append(adapterOpts,
			anthropicmodel.WithAPIKey(cfg.Model.APIKey),
			anthropicmodel.WithTemperature(cfg.Model.Temperature),
			anthropicmodel.WithMaxTokens(cfg.Model.MaxTokens),
		)
		if cfg.Model.BaseURL != "" {
			adapterOpts = append(adapterOpts, anthropicmodel.WithBaseURL(cfg.Model.BaseURL))
		}
		m = anthropicmodel.NewModel(adapterOpts...)
	default:
		var adapterOpts []func(o *openaimodel.Options)
		if cfg.Model.Name != "" {
			adapterOpts = append(adapterOpts, openaimodel.WithModel(cfg.Model.Name))
		}
		adapterOpts = append(adapterOpts,
			openaimodel.WithAPIKey(cfg.Model.APIKey),
			openaimodel.WithTemperature(cfg.Model.Temperature),
			openaimodel.WithMaxTokens(cfg.Model.MaxTokens),
		)
		if cfg.Model.BaseURL != "" {
			adapterOpts = append(adapterOpts, openaimodel.WithBaseURL(cfg.Model.BaseURL))
		}
		m = openaimodel.NewModel(adapterOpts...)
	}

	base := func(o *Options) {
		o.Temperature = cfg.Model.Temperature
		o.MaxTokens = cfg.Model.MaxTokens
		o.HistoryLimit = cfg.Engine.HistoryLimit
		o.TimeGapHint = hint
		o.ScheduleInterval = interval
		if !cfg.Engine.TypingDelay {
			o.TypingDelay = segment.NoDelay
		}
		o.Logger = logging.NewSlogLogger(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	}
	return New(m, append([]func(o *Options){base}, optFns...)...), nil
}

// Store exposes the persistence layer for seeding personas, profiles and
// groups, and for reading conversation logs.
func (e *Engine) Store() core.Store { return e.opts.Store }

// Send delivers a user text message to a persona and returns every message
// the turn persisted, in order.
func (e *Engine) Send(ctx context.Context, characterID, text string) ([]core.Message, error) {
	return e.sessions.Send(ctx, characterID, text)
}

// SendImage delivers a user image to a persona.
func (e *Engine) SendImage(ctx context.Context, characterID, imageURL string) ([]core.Message, error) {
	return e.sessions.SendImage(ctx, characterID, imageURL)
}

// Reroll discards the persona's latest reply and regenerates it.
func (e *Engine) Reroll(ctx context.Context, characterID string) ([]core.Message, error) {
	return e.sessions.Reroll(ctx, characterID)
}

// SendToGroup delivers a user message to a group and runs one director turn.
func (e *Engine) SendToGroup(ctx context.Context, groupID, text string) ([]core.Message, error) {
	return e.director.Send(ctx, groupID, text)
}

// StartScheduler begins background promotion of scheduled messages.
func (e *Engine) StartScheduler(ctx context.Context) error {
	return e.daemon.Start(ctx)
}

// StopScheduler halts background promotion.
func (e *Engine) StopScheduler() { e.daemon.Stop() }
