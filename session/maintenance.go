package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kokoro-chat/kokoro/core"
	"github.com/kokoro-chat/kokoro/model"
	"github.com/kokoro-chat/kokoro/prompt"
)

// impressionInstruction asks for the structured private-opinion record. The
// model must answer with bare JSON; a markdown fence is tolerated.
const impressionInstruction = `Review the conversation and update your private impression of the user.
Reply ONLY with JSON: {"traits": [], "likes": [], "dislikes": [], "triggers": [], "comfort_zone": ""}.
Keep entries short. Carry over anything from the previous impression that still holds.`

// RefreshImpression regenerates the persona's private impression of the user
// from recent history and persists it with a bumped version. The previous
// impression is offered as context so stable observations survive.
func (m *Manager) RefreshImpression(ctx context.Context, characterID string) (*core.Impression, error) {
	persona, err := m.store.Persona(ctx, characterID)
	if err != nil {
		return nil, fmt.Errorf("load persona %q: %w", characterID, err)
	}
	key := core.OneToOne(characterID)
	history, err := m.store.Messages(ctx, key, core.MessageQuery{TailLimit: m.opts.HistoryLimit})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	msgs := []model.Message{model.SystemMessage(fmt.Sprintf("You are %s.", persona.Name))}
	if prev := persona.Impression; prev != nil && !prev.Empty() {
		blob, _ := json.Marshal(prev)
		msgs = append(msgs, model.SystemMessage("Your previous impression: "+string(blob)))
	}
	msgs = append(msgs, toModelMessages(history)...)
	msgs = append(msgs, model.UserMessage(impressionInstruction))

	raw, err := m.model.Complete(ctx, model.Request{Messages: msgs})
	if err != nil {
		return nil, fmt.Errorf("impression completion: %w", err)
	}

	var next core.Impression
	if err := json.Unmarshal([]byte(stripFence(raw)), &next); err != nil {
		return nil, fmt.Errorf("unparsable impression reply: %w", err)
	}

	if prev := persona.Impression; prev != nil {
		next.Version = prev.Version + 1
		next.ChangeLog = append(append([]string(nil), prev.ChangeLog...),
			fmt.Sprintf("v%d regenerated at %s", next.Version, m.opts.Clock().Format("2006-01-02 15:04")))
	} else {
		next.Version = 1
		next.ChangeLog = []string{fmt.Sprintf("v1 created at %s", m.opts.Clock().Format("2006-01-02 15:04"))}
	}

	if err := m.store.PutPersona(ctx, characterID, core.PersonaPatch{Impression: &next}); err != nil {
		return nil, fmt.Errorf("persist impression: %w", err)
	}
	m.opts.Logger.Info("impression refreshed", "character", characterID, "version", next.Version)
	return &next, nil
}

// ArchiveMonth compresses a month's raw per-day memories into the refined
// monthly summary. Raw entries are kept so RECALL can still surface them.
func (m *Manager) ArchiveMonth(ctx context.Context, characterID, monthKey string) (string, error) {
	persona, err := m.store.Persona(ctx, characterID)
	if err != nil {
		return "", fmt.Errorf("load persona %q: %w", characterID, err)
	}
	entries := persona.Memory.RawForMonth(monthKey)
	if len(entries) == 0 {
		return "", fmt.Errorf("no raw memories for %s: %w", monthKey, core.ErrNotFound)
	}

	raw, err := m.model.Complete(ctx, model.Request{
		Messages: []model.Message{
			model.SystemMessage(fmt.Sprintf("You are %s. Compress your diary for %s into one or two sentences of shared memory, first person, no dates.", persona.Name, monthKey)),
			model.UserMessage(prompt.MemoryDetail(*persona, monthKey)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("archive completion: %w", err)
	}
	summary := strings.TrimSpace(raw)
	if summary == "" {
		return "", fmt.Errorf("empty archive summary for %s", monthKey)
	}

	bank := persona.Memory
	refined := make(map[string]string, len(bank.Refined)+1)
	for k, v := range bank.Refined {
		refined[k] = v
	}
	refined[monthKey] = summary
	bank.Refined = refined

	if err := m.store.PutPersona(ctx, characterID, core.PersonaPatch{Memory: &bank}); err != nil {
		return "", fmt.Errorf("persist memory bank: %w", err)
	}
	m.opts.Logger.Info("month archived", "character", characterID, "month", monthKey)
	return summary, nil
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	return s
}
