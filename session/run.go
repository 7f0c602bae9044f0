package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kokoro-chat/kokoro/core"
	"github.com/kokoro-chat/kokoro/directive"
	"github.com/kokoro-chat/kokoro/logging"
	"github.com/kokoro-chat/kokoro/model"
	"github.com/kokoro-chat/kokoro/prompt"
	"github.com/kokoro-chat/kokoro/segment"
)

// errorNotice is the synthetic system message persisted when a turn fails.
// Consecutive identical notices are collapsed by the dedup guard.
const errorNotice = "(The reply failed to arrive. Send another message to retry.)"

// safetyFallback is persisted when even the minimal retry request comes back
// empty, so the turn never ends without a visible reply.
const safetyFallback = "……"

// fallbackInstruction is the minimal retry prompt used when the primary
// completion returns empty (typically an upstream safety block on some part
// of the assembled context).
const fallbackInstruction = "Reply with one short, friendly sentence to keep the conversation going."

// scheduleLayouts are the accepted datetimes of a schedule_message tag.
var scheduleLayouts = []string{"2006-01-02 15:04:05", "2006-01-02 15:04"}

// runner executes a single generation turn. It is created per turn and not
// reused.
type runner struct {
	store   core.Store
	model   model.Model
	opts    Options
	key     core.ConversationKey
	persona *core.PersonaProfile
	user    core.UserProfile
	state   State
}

func (r *runner) transition(next State) {
	r.state = next
	r.opts.Logger.Debug("session state", "conversation", r.key.String(), "state", next.String())
}

func (r *runner) run(ctx context.Context) ([]core.Message, error) {
	history, err := r.store.Messages(ctx, r.key, core.MessageQuery{TailLimit: r.opts.HistoryLimit})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	req := r.buildRequest(history, "")

	r.transition(StateRequesting)
	raw, err := r.complete(ctx, req)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	if strings.TrimSpace(raw) == "" {
		raw, err = r.retryMinimal(ctx)
		if err != nil {
			return nil, r.fail(ctx, err)
		}
	}

	r.transition(StateDecoding)
	res := r.decode(raw)

	if month, ok := firstRecall(res); ok {
		res, err = r.recallHop(ctx, history, month, res)
		if err != nil {
			return nil, r.fail(ctx, err)
		}
	}

	r.transition(StateSegmenting)
	plan := buildPlan(res)

	r.transition(StatePersisting)
	out, err := r.execute(ctx, plan)
	r.transition(StateIdle)
	if err != nil {
		return out, err
	}
	return out, nil
}

// recallHop performs the single allowed follow-up completion with the
// requested month's raw memory injected. Any RECALL directive in the second
// reply is dropped rather than honored, capping the detour at one hop.
func (r *runner) recallHop(ctx context.Context, history []core.Message, month string, prev directive.Result) (directive.Result, error) {
	r.transition(StateRecallRequesting)
	detail := prompt.MemoryDetail(*r.persona, month)
	req := r.buildRequest(history, detail)

	raw, err := r.complete(ctx, req)
	if err != nil {
		return directive.Result{}, err
	}
	if strings.TrimSpace(raw) == "" {
		// The recall attempt produced nothing; fall back to the first reply
		// minus its recall directive.
		return dropRecalls(prev), nil
	}

	r.transition(StateRecallDecoding)
	return dropRecalls(r.decode(raw)), nil
}

func (r *runner) decode(raw string) directive.Result {
	return directive.Decode(raw, directive.ModeDirect, directive.WithSpeaker(r.persona.Name))
}

// buildRequest assembles the completion input: system prompt, optional
// elapsed-time hint, optional recall detail, then the history tail.
func (r *runner) buildRequest(history []core.Message, recallDetail string) model.Request {
	msgs := []model.Message{model.SystemMessage(prompt.Assemble(*r.persona, r.user, true))}

	if hint, ok := r.timeGapHint(history); ok {
		msgs = append(msgs, model.SystemMessage(hint))
	}
	if recallDetail != "" {
		msgs = append(msgs, model.SystemMessage(recallDetail))
	}
	msgs = append(msgs, toModelMessages(history)...)

	return model.Request{
		Messages:    msgs,
		Temperature: r.opts.Temperature,
		MaxTokens:   r.opts.MaxTokens,
	}
}

// timeGapHint produces a hint about elapsed real time since the last
// message, so the persona can acknowledge long silences naturally.
func (r *runner) timeGapHint(history []core.Message) (string, bool) {
	if r.opts.TimeGapHint <= 0 || len(history) == 0 {
		return "", false
	}
	gap := r.opts.Clock().Sub(history[len(history)-1].Timestamp)
	if gap < r.opts.TimeGapHint {
		return "", false
	}
	return fmt.Sprintf("(%s passed since the last message in this conversation.)", formatGap(gap)), true
}

func formatGap(d time.Duration) string {
	switch {
	case d >= 48*time.Hour:
		return fmt.Sprintf("about %d days", int(d.Hours()/24))
	case d >= 2*time.Hour:
		return fmt.Sprintf("about %d hours", int(d.Hours()))
	default:
		return fmt.Sprintf("about %d minutes", int(d.Minutes()))
	}
}

func (r *runner) complete(ctx context.Context, req model.Request) (string, error) {
	start := time.Now()
	raw, err := r.model.Complete(ctx, req)
	dur := time.Since(start)

	if el, ok := r.opts.Logger.(*logging.EngineLogger); ok {
		el.LogModelCall(r.model.Info().Name, dur, err == nil, err)
	} else if err != nil {
		r.opts.Logger.Error("model call failed", "conversation", r.key.String(), "error", err)
	} else {
		r.opts.Logger.Debug("model call completed",
			"conversation", r.key.String(),
			"model", r.model.Info().Name,
			"duration", dur,
			"chars", len(raw))
	}
	if err != nil {
		return "", err
	}
	return raw, nil
}

func (r *runner) logDirective(kind string, executed bool) {
	if el, ok := r.opts.Logger.(*logging.EngineLogger); ok {
		el.LogDirective(kind, executed)
		return
	}
	r.opts.Logger.Debug("directive processed", "directive", kind, "executed", executed)
}

// retryMinimal re-requests with a stripped-down prompt after an empty
// completion, and substitutes a canned reply if even that returns nothing.
func (r *runner) retryMinimal(ctx context.Context) (string, error) {
	r.opts.Logger.Warn("empty completion, retrying with minimal prompt", "conversation", r.key.String())
	req := model.Request{
		Messages: []model.Message{
			model.SystemMessage(fmt.Sprintf("You are %s.", r.persona.Name)),
			model.UserMessage(fallbackInstruction),
		},
		Temperature: r.opts.Temperature,
	}
	raw, err := r.complete(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(raw) == "" {
		return safetyFallback, nil
	}
	return raw, nil
}

// fail persists the error notice (unless the log already ends with it) and
// returns the wrapped cause. A failed dedup read is logged and the notice is
// appended anyway: a visible notice beats a perfectly deduped silent one.
func (r *runner) fail(ctx context.Context, cause error) error {
	r.transition(StateIdle)

	tail, err := r.store.Messages(ctx, r.key, core.MessageQuery{TailLimit: 1})
	if err != nil {
		r.opts.Logger.Error("error notice dedup check failed", "conversation", r.key.String(), "error", err)
	}
	if len(tail) == 1 && tail[0].Role == core.RoleSystem && tail[0].Content == errorNotice {
		return fmt.Errorf("generation failed: %w", cause)
	}
	if _, err := r.store.AppendMessage(ctx, core.NewSystemMessage(r.key, errorNotice)); err != nil {
		r.opts.Logger.Error("persist error notice failed", "conversation", r.key.String(), "error", err)
	}
	return fmt.Errorf("generation failed: %w", cause)
}

// planStep is one persist-ready unit: either a prose bubble (Chunk set) or
// a directive to execute.
type planStep struct {
	Chunk     string
	Directive directive.Directive
}

// buildPlan flattens decoded runs into ordered steps, splitting each text
// run into bubbles.
func buildPlan(res directive.Result) []planStep {
	var plan []planStep
	for _, run := range res.Runs {
		if run.IsText() {
			for _, chunk := range segment.Split(run.Text) {
				plan = append(plan, planStep{Chunk: chunk})
			}
			continue
		}
		plan = append(plan, planStep{Directive: run.Directive})
	}
	return plan
}

// execute persists the plan in order, pausing before each prose bubble for
// the typing simulation. Side effects that fail to persist abort the turn;
// already-persisted steps are kept (the log is append-only).
func (r *runner) execute(ctx context.Context, plan []planStep) ([]core.Message, error) {
	var out []core.Message

	appendMsg := func(msg core.Message) error {
		stored, err := r.store.AppendMessage(ctx, msg)
		if err != nil {
			return err
		}
		out = append(out, stored)
		return nil
	}

	for _, step := range plan {
		if step.Directive == nil {
			if err := r.pause(ctx, r.opts.Delay(step.Chunk)); err != nil {
				return out, err
			}
			if err := appendMsg(core.NewAssistantMessage(r.key, step.Chunk)); err != nil {
				return out, fmt.Errorf("persist bubble: %w", err)
			}
			continue
		}

		switch d := step.Directive.(type) {
		case directive.Poke:
			if err := appendMsg(core.NewInteractionMessage(r.key, "poke")); err != nil {
				return out, fmt.Errorf("persist poke: %w", err)
			}
			r.logDirective(d.Kind(), true)

		case directive.Transfer:
			if err := appendMsg(core.NewTransferMessage(r.key, d.Amount)); err != nil {
				return out, fmt.Errorf("persist transfer: %w", err)
			}
			r.logDirective(d.Kind(), true)

		case directive.AddEvent:
			ev := core.CalendarEvent{
				ID:          core.NewID(),
				CharacterID: r.key.CharacterID,
				Title:       d.Title,
				Date:        d.Date,
			}
			if err := r.store.PutEvent(ctx, ev); err != nil {
				return out, fmt.Errorf("persist event: %w", err)
			}
			r.logDirective(d.Kind(), true)

		case directive.SendEmoji:
			url, ok := r.opts.Emoji.Resolve(d.Name)
			if !ok {
				// Hallucinated sticker names are noise, not errors.
				r.logDirective(d.Kind(), false)
				continue
			}
			if err := appendMsg(core.NewEmojiMessage(r.key, d.Name, url)); err != nil {
				return out, fmt.Errorf("persist emoji: %w", err)
			}
			r.logDirective(d.Kind(), true)

		case directive.Schedule:
			r.logDirective(d.Kind(), r.handleSchedule(ctx, d))

		case directive.Recall:
			// Already consumed by the recall hop (or dropped past the cap).
			r.logDirective(d.Kind(), false)

		case directive.Private:
			// Not produced in direct mode; ignore defensively.
			r.logDirective(d.Kind(), false)
		}
	}
	return out, nil
}

// handleSchedule registers a future proactive message, reporting whether it
// stuck. Unparsable or past datetimes are discarded without surfacing an
// error to the user.
func (r *runner) handleSchedule(ctx context.Context, d directive.Schedule) bool {
	due, ok := parseScheduleAt(d.At)
	if !ok {
		r.opts.Logger.Warn("unparsable schedule datetime dropped", "conversation", r.key.String(), "at", d.At)
		return false
	}
	if !due.After(r.opts.Clock()) {
		r.opts.Logger.Debug("past schedule dropped", "conversation", r.key.String(), "due", due)
		return false
	}
	sm := core.NewScheduledMessage(r.key, d.Content, due)
	if err := r.store.PutScheduled(ctx, sm); err != nil {
		r.opts.Logger.Error("persist scheduled message failed", "conversation", r.key.String(), "error", err)
		return false
	}
	r.opts.Logger.Info("scheduled message registered", "conversation", r.key.String(), "id", sm.ID, "due", due)
	return true
}

func parseScheduleAt(at string) (time.Time, bool) {
	for _, layout := range scheduleLayouts {
		if t, err := time.ParseInLocation(layout, at, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (r *runner) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// firstRecall returns the month of the first recall directive, if any.
func firstRecall(res directive.Result) (string, bool) {
	for _, d := range res.Directives {
		if rec, ok := d.(directive.Recall); ok {
			return rec.Month, true
		}
	}
	return "", false
}

// dropRecalls removes recall directives from a result so they cannot
// trigger further hops during execution.
func dropRecalls(res directive.Result) directive.Result {
	out := directive.Result{CleanText: res.CleanText}
	for _, run := range res.Runs {
		if _, ok := run.Directive.(directive.Recall); ok {
			continue
		}
		out.Runs = append(out.Runs, run)
		if !run.IsText() {
			out.Directives = append(out.Directives, run.Directive)
		}
	}
	return out
}

// toModelMessages renders persisted history as chat turns. Non-text payloads
// are rendered as bracketed descriptions so the model sees what happened
// without raw URLs leaking into its style.
func toModelMessages(history []core.Message) []model.Message {
	out := make([]model.Message, 0, len(history))
	for _, msg := range history {
		role := "user"
		switch msg.Role {
		case core.RoleAssistant:
			role = "assistant"
		case core.RoleSystem:
			role = "system"
		}

		switch msg.Type {
		case core.MessageImage:
			out = append(out, model.Message{
				Role: role,
				Parts: []model.Part{
					{Type: "text", Text: "(sent an image)"},
					{Type: "image_url", ImageURL: msg.Content},
				},
			})
		case core.MessageEmoji:
			out = append(out, model.Message{Role: role, Content: fmt.Sprintf("(sent the %q sticker)", msg.Metadata["emoji"])})
		case core.MessageTransfer:
			out = append(out, model.Message{Role: role, Content: fmt.Sprintf("(sent a transfer of %s)", msg.Content)})
		case core.MessageInteraction:
			out = append(out, model.Message{Role: role, Content: fmt.Sprintf("(%s)", msg.Content)})
		default:
			out = append(out, model.Message{Role: role, Content: msg.Content})
		}
	}
	return out
}
