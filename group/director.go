// Package group implements the multi-agent director: one completion per
// user turn produces a JSON array of member replies, which are decoded,
// segmented and persisted against the group log in array order. PRIVATE
// directives reroute a member's aside into their one-to-one conversation.
package group

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kokoro-chat/kokoro/core"
	"github.com/kokoro-chat/kokoro/directive"
	"github.com/kokoro-chat/kokoro/emoji"
	"github.com/kokoro-chat/kokoro/logging"
	"github.com/kokoro-chat/kokoro/model"
	"github.com/kokoro-chat/kokoro/prompt"
	"github.com/kokoro-chat/kokoro/segment"
)

// ErrGenerationInFlight is returned when a director turn is requested for a
// group that already has one running.
var ErrGenerationInFlight = core.ErrGenerationInFlight

// Turn is one element of the model's reply array.
type Turn struct {
	AgentID string `json:"agentId"`
	Content string `json:"content"`
}

// Options configure a Director.
type Options struct {
	Temperature  float64
	MaxTokens    int64
	HistoryLimit int
	Delay        segment.DelayFunc
	Clock        func() time.Time
	Emoji        *emoji.Table
	Logger       logging.Logger
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) func(o *Options) {
	return func(o *Options) { o.Temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int64) func(o *Options) {
	return func(o *Options) { o.MaxTokens = n }
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

// WithHistoryLimit caps the context window in messages.
func WithHistoryLimit(n int) func(o *Options) {
	return func(o *Options) { o.HistoryLimit = n }
}

// Director orchestrates group conversations. Each group runs at most one
// director turn at a time; concurrent sends fail fast with
// ErrGenerationInFlight instead of queueing.
type Director struct {
	store core.Store
	model model.Model
	opts  Options
	locks *core.InFlightLock
}

// NewDirector creates a group director over the given store and model.
func NewDirector(store core.Store, m model.Model, optFns ...func(o *Options)) *Director {
	opts := Options{
		HistoryLimit: 50,
		Delay:        segment.Delay,
		Clock:        time.Now,
		Emoji:        emoji.DefaultTable(),
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Director{store: store, model: m, opts: opts, locks: core.NewInFlightLock()}
}

// Send appends the user's message to the group log and runs one director
// turn. The returned slice holds every message persisted to any log, group
// and one-to-one alike, in execution order.
func (d *Director) Send(ctx context.Context, groupID, text string) ([]core.Message, error) {
	key := core.GroupKey(groupID)
	if !d.locks.TryAcquire(key) {
		return nil, ErrGenerationInFlight
	}
	defer d.locks.Release(key)

	if _, err := d.store.AppendMessage(ctx, core.NewUserMessage(key, text)); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}
	return d.respond(ctx, groupID)
}

// Respond runs one director turn from the existing group history.
func (d *Director) Respond(ctx context.Context, groupID string) ([]core.Message, error) {
	key := core.GroupKey(groupID)
	if !d.locks.TryAcquire(key) {
		return nil, ErrGenerationInFlight
	}
	defer d.locks.Release(key)

	return d.respond(ctx, groupID)
}

func (d *Director) respond(ctx context.Context, groupID string) ([]core.Message, error) {
	key := core.GroupKey(groupID)

	grp, err := d.store.Group(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("load group %q: %w", groupID, err)
	}
	user, err := d.store.UserProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("load user profile: %w", err)
	}

	members := make(map[string]*core.PersonaProfile, len(grp.MemberIDs))
	for _, id := range grp.MemberIDs {
		p, err := d.store.Persona(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load member %q: %w", id, err)
		}
		members[id] = p
	}

	history, err := d.store.Messages(ctx, key, core.MessageQuery{TailLimit: d.opts.HistoryLimit})
	if err != nil {
		return nil, fmt.Errorf("load group history: %w", err)
	}

	req := model.Request{
		Messages:    d.buildMessages(grp, members, user, history),
		Temperature: d.opts.Temperature,
		MaxTokens:   d.opts.MaxTokens,
	}
	raw, err := d.model.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("director completion: %w", err)
	}

	turns, ok := parseTurns(raw)
	if !ok {
		// A reply the director cannot parse produces no messages at all;
		// the group stays consistent and the user can simply send again.
		d.opts.Logger.Debug("unparsable director reply dropped", "group", groupID, "chars", len(raw))
		return nil, nil
	}

	var out []core.Message
	for _, turn := range turns {
		persona, ok := members[turn.AgentID]
		if !ok {
			d.opts.Logger.Debug("reply for unknown member dropped", "group", groupID, "agent", turn.AgentID)
			continue
		}
		msgs, err := d.executeTurn(ctx, key, turn.AgentID, persona, turn.Content)
		out = append(out, msgs...)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// buildMessages assembles the director prompt: a roster system message with
// output-format rules, each member's persona context, then the group history
// with author labels.
func (d *Director) buildMessages(grp *core.GroupProfile, members map[string]*core.PersonaProfile, user core.UserProfile, history []core.Message) []model.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "You are directing the group chat %q with these members:\n", grp.Name)
	for _, id := range grp.MemberIDs {
		fmt.Fprintf(&b, "- %s (agentId: %s)\n", members[id].Name, id)
	}
	b.WriteString(`
Reply ONLY with a JSON array. Each element is {"agentId": "<id>", "content": "<that member's message>"}.
Members speak in the array order you choose; a member who stays silent is simply omitted.
A member may address one user privately by wrapping that part in [[PRIVATE: ...]]; it will be delivered outside the group.`)

	msgs := []model.Message{model.SystemMessage(b.String())}
	for _, id := range grp.MemberIDs {
		msgs = append(msgs, model.SystemMessage(
			fmt.Sprintf("Context for %s:\n%s", members[id].Name, prompt.Assemble(*members[id], user, false))))
	}

	for _, msg := range history {
		if msg.Role == core.RoleAssistant {
			name := msg.Metadata[core.MetaAuthor]
			if p, ok := members[name]; ok {
				name = p.Name
			}
			msgs = append(msgs, model.AssistantMessage(fmt.Sprintf("%s: %s", name, msg.Content)))
			continue
		}
		msgs = append(msgs, model.Message{Role: string(msg.Role), Content: msg.Content})
	}
	return msgs
}

// parseTurns decodes the model's JSON array, tolerating a markdown fence
// around it. Anything else is reported as unparsable.
func parseTurns(raw string) ([]Turn, bool) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	var turns []Turn
	if err := json.Unmarshal([]byte(s), &turns); err != nil {
		return nil, false
	}
	return turns, true
}

// executeTurn decodes one member's content in group mode and persists the
// results: public runs to the group log tagged with the author, PRIVATE
// runs to the member's one-to-one conversation.
func (d *Director) executeTurn(ctx context.Context, key core.ConversationKey, agentID string, persona *core.PersonaProfile, content string) ([]core.Message, error) {
	res := directive.Decode(content, directive.ModeGroup, directive.WithSpeaker(persona.Name))

	var out []core.Message
	appendMsg := func(msg core.Message) error {
		stored, err := d.store.AppendMessage(ctx, msg)
		if err != nil {
			return err
		}
		out = append(out, stored)
		return nil
	}

	for _, run := range res.Runs {
		if run.IsText() {
			for _, chunk := range segment.Split(run.Text) {
				if err := d.pause(ctx, d.opts.Delay(chunk)); err != nil {
					return out, err
				}
				msg := core.NewAssistantMessage(key, chunk).WithMeta(core.MetaAuthor, agentID)
				if err := appendMsg(msg); err != nil {
					return out, fmt.Errorf("persist group bubble: %w", err)
				}
			}
			continue
		}

		switch dir := run.Directive.(type) {
		case directive.Private:
			// The aside lands in the member's direct conversation only.
			privKey := core.OneToOne(agentID)
			for _, chunk := range segment.Split(dir.Content) {
				if err := appendMsg(core.NewAssistantMessage(privKey, chunk)); err != nil {
					return out, fmt.Errorf("persist private aside: %w", err)
				}
			}

		case directive.Poke:
			msg := core.NewInteractionMessage(key, "poke").WithMeta(core.MetaAuthor, agentID)
			if err := appendMsg(msg); err != nil {
				return out, fmt.Errorf("persist poke: %w", err)
			}

		case directive.Transfer:
			msg := core.NewTransferMessage(key, dir.Amount).WithMeta(core.MetaAuthor, agentID)
			if err := appendMsg(msg); err != nil {
				return out, fmt.Errorf("persist transfer: %w", err)
			}

		case directive.SendEmoji:
			url, ok := d.opts.Emoji.Resolve(dir.Name)
			if !ok {
				d.opts.Logger.Debug("unknown emoji dropped", "group", key.String(), "name", dir.Name)
				continue
			}
			msg := core.NewEmojiMessage(key, dir.Name, url).WithMeta(core.MetaAuthor, agentID)
			if err := appendMsg(msg); err != nil {
				return out, fmt.Errorf("persist emoji: %w", err)
			}

		case directive.AddEvent:
			ev := core.CalendarEvent{
				ID:          core.NewID(),
				CharacterID: agentID,
				Title:       dir.Title,
				Date:        dir.Date,
			}
			if err := d.store.PutEvent(ctx, ev); err != nil {
				return out, fmt.Errorf("persist event: %w", err)
			}

		case directive.Schedule:
			d.handleSchedule(ctx, key, dir)

		case directive.Recall:
			// Memory recall is a one-to-one affordance; the director has no
			// second hop, so the tag is dropped.
			d.opts.Logger.Debug("recall in group reply dropped", "group", key.String(), "agent", agentID)
		}
	}
	return out, nil
}

func (d *Director) handleSchedule(ctx context.Context, key core.ConversationKey, dir directive.Schedule) {
	due, ok := parseScheduleAt(dir.At)
	if !ok {
		d.opts.Logger.Warn("unparsable schedule datetime dropped", "group", key.String(), "at", dir.At)
		return
	}
	if !due.After(d.opts.Clock()) {
		return
	}
	if err := d.store.PutScheduled(ctx, core.NewScheduledMessage(key, dir.Content, due)); err != nil {
		d.opts.Logger.Error("persist scheduled message failed", "group", key.String(), "error", err)
	}
}

var scheduleLayouts = []string{"2006-01-02 15:04:05", "2006-01-02 15:04"}

func parseScheduleAt(at string) (time.Time, bool) {
	for _, layout := range scheduleLayouts {
		if t, err := time.ParseInLocation(layout, at, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (d *Director) pause(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
