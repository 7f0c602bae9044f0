// Package schedule runs the background promoter for scheduled messages.
// Every poll it scans all conversations for due entries and promotes each
// at most once: the entry is deleted first, and only a successful delete
// materializes the message, so two overlapping pollers can never deliver
// the same entry twice.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kokoro-chat/kokoro/core"
	"github.com/kokoro-chat/kokoro/logging"
)

// Options configure a Daemon.
type Options struct {
	// Interval is the poll cadence.
	Interval time.Duration
	// Clock supplies the current time; tests substitute a fixed clock.
	Clock func() time.Time
	// Viewing reports whether the user currently has the conversation open.
	// A viewed conversation still receives the message but no push.
	Viewing func(key core.ConversationKey) bool
	// Logger receives daemon diagnostics.
	Logger logging.Logger
}

// WithInterval sets the poll cadence.
func WithInterval(d time.Duration) func(o *Options) {
	return func(o *Options) { o.Interval = d }
}

// WithClock substitutes the time source.
func WithClock(clock func() time.Time) func(o *Options) {
	return func(o *Options) { o.Clock = clock }
}

// WithViewing sets the open-conversation predicate.
func WithViewing(fn func(key core.ConversationKey) bool) func(o *Options) {
	return func(o *Options) { o.Viewing = fn }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// Daemon promotes due scheduled messages into conversation logs.
type Daemon struct {
	store    core.Store
	notifier core.Notifier
	opts     Options
	cron     *cron.Cron
}

// NewDaemon creates a daemon over the given store and notifier.
func NewDaemon(store core.Store, notifier core.Notifier, optFns ...func(o *Options)) *Daemon {
	opts := Options{
		Interval: 5 * time.Second,
		Clock:    time.Now,
		Viewing:  func(core.ConversationKey) bool { return false },
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if notifier == nil {
		notifier = core.NoOpNotifier{}
	}
	return &Daemon{store: store, notifier: notifier, opts: opts}
}

// Start begins background polling. The context bounds each poll, not the
// daemon lifetime; call Stop to halt polling.
func (d *Daemon) Start(ctx context.Context) error {
	if d.cron != nil {
		return errors.New("daemon already started")
	}
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", d.opts.Interval), func() {
		d.Poll(ctx)
	}); err != nil {
		return fmt.Errorf("register poll job: %w", err)
	}
	c.Start()
	d.cron = c
	d.opts.Logger.Info("schedule daemon started", "interval", d.opts.Interval.String())
	return nil
}

// Stop halts polling and waits for an in-progress poll to finish.
func (d *Daemon) Stop() {
	if d.cron == nil {
		return
	}
	<-d.cron.Stop().Done()
	d.cron = nil
	d.opts.Logger.Info("schedule daemon stopped")
}

// Poll runs one promotion pass over every conversation and returns how many
// messages were delivered. Exported so callers and tests can drive the
// daemon without the timer.
func (d *Daemon) Poll(ctx context.Context) int {
	keys, err := d.store.Conversations(ctx)
	if err != nil {
		d.opts.Logger.Error("list conversations failed", "error", err)
		return 0
	}

	now := d.opts.Clock()
	promoted := 0
	for _, key := range keys {
		due, err := d.store.DueScheduled(ctx, key, now)
		if err != nil {
			d.opts.Logger.Error("list due scheduled failed", "conversation", key.String(), "error", err)
			continue
		}
		for _, sm := range due {
			if d.promote(ctx, key, sm) {
				promoted++
			}
		}
	}
	return promoted
}

// promote claims one entry and materializes it. The delete is the claim: a
// concurrent poller that loses the delete race skips delivery entirely.
func (d *Daemon) promote(ctx context.Context, key core.ConversationKey, sm core.ScheduledMessage) bool {
	if err := d.store.DeleteScheduled(ctx, sm.ID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return false
		}
		d.opts.Logger.Error("claim scheduled message failed", "id", sm.ID, "error", err)
		return false
	}

	if _, err := d.store.AppendMessage(ctx, core.NewAssistantMessage(key, sm.Content)); err != nil {
		// The claim succeeded but delivery failed; the entry is lost rather
		// than duplicated, which is the at-most-once side of the tradeoff.
		d.opts.Logger.Error("materialize scheduled message failed", "id", sm.ID, "error", err)
		return false
	}

	notified := false
	if !d.opts.Viewing(key) {
		if err := d.notifier.Push(ctx, d.senderName(ctx, key), sm.Content); err != nil {
			d.opts.Logger.Warn("push notification failed", "id", sm.ID, "error", err)
		} else {
			notified = true
		}
	}
	if el, ok := d.opts.Logger.(*logging.EngineLogger); ok {
		el.LogSchedulePromotion(sm.ID, sm.DueAt, notified)
	} else {
		d.opts.Logger.Info("scheduled message promoted", "id", sm.ID, "conversation", key.String(), "notified", notified)
	}
	return true
}

func (d *Daemon) senderName(ctx context.Context, key core.ConversationKey) string {
	if key.IsGroup() {
		if g, err := d.store.Group(ctx, key.GroupID); err == nil {
			return g.Name
		}
		return key.String()
	}
	if p, err := d.store.Persona(ctx, key.CharacterID); err == nil {
		return p.Name
	}
	return key.String()
}
