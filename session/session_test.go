package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokoro-chat/kokoro/core"
	"github.com/kokoro-chat/kokoro/logging"
	"github.com/kokoro-chat/kokoro/model"
	"github.com/kokoro-chat/kokoro/segment"
	"github.com/kokoro-chat/kokoro/store"
)

func newFixture(t *testing.T, optFns ...func(o *Options)) (*store.InMemoryStore, *model.MockModel, *Manager) {
	t.Helper()
	st := store.NewInMemoryStore()
	st.SeedPersona(core.PersonaProfile{
		ID:           "luna",
		Name:         "Luna",
		Instructions: "You are warm and a little mischievous.",
		Memory: core.MemoryBank{
			Refined: map[string]string{"2025-03": "We talked about the sea."},
			Raw: []core.RawMemory{
				{Date: "2025-03-10", Summary: "Planned a beach trip", Mood: "excited"},
			},
		},
	})
	st.SeedUserProfile(core.UserProfile{Name: "Alex"})

	mock := model.NewMockModel()
	opts := append([]func(o *Options){WithDelay(segment.NoDelay)}, optFns...)
	return st, mock, NewManager(st, mock, opts...)
}

func contents(msgs []core.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func TestSend_InterleavedDirectives(t *testing.T) {
	_, mock, mgr := newFixture(t)
	mock.Enqueue("你好。[[SEND_EMOJI: wave]][[ACTION:POKE]]再见。")

	out, err := mgr.Send(context.Background(), "luna", "在吗？")
	require.NoError(t, err)
	require.Len(t, out, 4)

	assert.Equal(t, core.MessageText, out[0].Type)
	assert.Equal(t, "你好。", out[0].Content)
	assert.Equal(t, core.MessageEmoji, out[1].Type)
	assert.Equal(t, "wave", out[1].Metadata["emoji"])
	assert.Equal(t, core.MessageInteraction, out[2].Type)
	assert.Equal(t, "poke", out[2].Content)
	assert.Equal(t, core.MessageText, out[3].Type)
	assert.Equal(t, "再见。", out[3].Content)
}

func TestSend_UnknownEmojiDroppedSilently(t *testing.T) {
	_, mock, mgr := newFixture(t)
	mock.Enqueue("[[SEND_EMOJI: nonexistent]]今天也要加油。")

	out, err := mgr.Send(context.Background(), "luna", "早")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "今天也要加油。", out[0].Content)
}

func TestSend_SingleRecallHop(t *testing.T) {
	_, mock, mgr := newFixture(t)
	mock.Enqueue(
		"[[RECALL: 2025-03]]",
		"那个月我们一起计划了海边旅行。[[RECALL: 2025-04]]",
	)

	out, err := mgr.Send(context.Background(), "luna", "还记得三月吗？")
	require.NoError(t, err)

	// Exactly one follow-up call; the second RECALL is dropped, not honored.
	assert.Equal(t, 2, mock.CallCount())
	require.Len(t, out, 1)
	assert.Equal(t, "那个月我们一起计划了海边旅行。", out[0].Content)

	// The follow-up request carries the month's raw detail.
	second := mock.Calls()[1]
	var found bool
	for _, m := range second.Messages {
		if m.Role == "system" && strings.Contains(m.Content, "2025-03-10") {
			found = true
		}
	}
	assert.True(t, found, "recall request should inject raw memory detail")
}

type blockingModel struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingModel) Complete(ctx context.Context, _ model.Request) (string, error) {
	b.started <- struct{}{}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-b.release:
		return "好的。", nil
	}
}

func (b *blockingModel) Info() model.Info { return model.Info{Name: "blocking", Provider: "mock"} }

func TestSend_RejectsConcurrentTurn(t *testing.T) {
	st := store.NewInMemoryStore()
	st.SeedPersona(core.PersonaProfile{ID: "luna", Name: "Luna"})

	bm := &blockingModel{started: make(chan struct{}, 1), release: make(chan struct{})}
	mgr := NewManager(st, bm, WithDelay(segment.NoDelay))

	errCh := make(chan error, 1)
	go func() {
		_, err := mgr.Send(context.Background(), "luna", "first")
		errCh <- err
	}()
	<-bm.started

	_, err := mgr.Send(context.Background(), "luna", "second")
	assert.ErrorIs(t, err, ErrGenerationInFlight)

	close(bm.release)
	require.NoError(t, <-errCh)
}

func TestSend_TransportErrorPersistsDedupedNotice(t *testing.T) {
	st, mock, mgr := newFixture(t)
	mock.Fail(errors.New("connection reset"))

	_, err := mgr.Send(context.Background(), "luna", "在吗？")
	require.Error(t, err)

	key := core.OneToOne("luna")
	msgs, err := st.Messages(context.Background(), key, core.MessageQuery{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleSystem, msgs[1].Role)
	assert.Equal(t, errorNotice, msgs[1].Content)

	// A retry that fails again must not stack a second identical notice.
	_, err = mgr.Respond(context.Background(), "luna")
	require.Error(t, err)

	msgs, err = st.Messages(context.Background(), key, core.MessageQuery{})
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

// flakyTailStore fails single-message tail reads, the query shape the error
// notice dedup guard uses, while leaving full history loads intact.
type flakyTailStore struct {
	core.Store
}

func (s *flakyTailStore) Messages(ctx context.Context, key core.ConversationKey, q core.MessageQuery) ([]core.Message, error) {
	if q.TailLimit == 1 {
		return nil, errors.New("tail read unavailable")
	}
	return s.Store.Messages(ctx, key, q)
}

func TestSend_FailedDedupReadStillPersistsNotice(t *testing.T) {
	st, mock, _ := newFixture(t)
	mock.Fail(errors.New("connection reset"))

	mgr := NewManager(&flakyTailStore{Store: st}, mock, WithDelay(segment.NoDelay))

	_, err := mgr.Send(context.Background(), "luna", "在吗？")
	require.Error(t, err)

	msgs, err := st.Messages(context.Background(), core.OneToOne("luna"), core.MessageQuery{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleSystem, msgs[1].Role)
	assert.Equal(t, errorNotice, msgs[1].Content)
}

func TestSend_EngineLoggerRecordsModelCallAndDirectives(t *testing.T) {
	var buf bytes.Buffer
	el := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "json", Output: &buf})

	_, mock, mgr := newFixture(t, WithLogger(el))
	mock.Enqueue("戳你一下。[[ACTION:POKE]]")

	_, err := mgr.Send(context.Background(), "luna", "在吗？")
	require.NoError(t, err)

	logs := buf.String()
	assert.Contains(t, logs, "Model call completed")
	assert.Contains(t, logs, `"conversation":"chat:luna"`)
	assert.Contains(t, logs, `"run_id"`)
	assert.Contains(t, logs, `"directive":"poke"`)
	assert.Contains(t, logs, "Directive processed")
}

func TestSend_EmptyCompletionRetriesMinimal(t *testing.T) {
	_, mock, mgr := newFixture(t)
	mock.Enqueue("", "没事啦，我在呢。")

	out, err := mgr.Send(context.Background(), "luna", "喂？")
	require.NoError(t, err)
	assert.Equal(t, 2, mock.CallCount())
	require.Len(t, out, 1)
	assert.Equal(t, "没事啦，我在呢。", out[0].Content)
}

func TestSend_DoubleEmptyFallsBackToCannedReply(t *testing.T) {
	_, mock, mgr := newFixture(t)
	mock.Enqueue("", "")

	out, err := mgr.Send(context.Background(), "luna", "喂？")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, safetyFallback, out[0].Content)
}

func TestReroll_ReplacesTrailingAssistantRun(t *testing.T) {
	st, mock, mgr := newFixture(t)
	mock.Enqueue("第一版回复。", "第二版回复。")

	_, err := mgr.Send(context.Background(), "luna", "讲个故事")
	require.NoError(t, err)

	out, err := mgr.Reroll(context.Background(), "luna")
	require.NoError(t, err)
	require.Len(t, out, 1)

	msgs, err := st.Messages(context.Background(), core.OneToOne("luna"), core.MessageQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"讲个故事", "第二版回复。"}, contents(msgs))
}

func TestRespond_TimeGapHintInjected(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	st, mock, mgr := newFixture(t, WithClock(func() time.Time { return now }))
	mock.Enqueue("好久不见！")

	old := core.NewUserMessage(core.OneToOne("luna"), "睡了，晚安")
	old.Timestamp = now.Add(-3 * time.Hour)
	_, err := st.AppendMessage(context.Background(), old)
	require.NoError(t, err)

	_, err = mgr.Respond(context.Background(), "luna")
	require.NoError(t, err)

	var hint string
	for _, m := range mock.Calls()[0].Messages {
		if m.Role == "system" && strings.Contains(m.Content, "passed since the last message") {
			hint = m.Content
		}
	}
	require.NotEmpty(t, hint)
	assert.Contains(t, hint, "about 3 hours")
}

func TestRespond_NoHintWithinThreshold(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	st, mock, mgr := newFixture(t, WithClock(func() time.Time { return now }))
	mock.Enqueue("嗯嗯。")

	recent := core.NewUserMessage(core.OneToOne("luna"), "刚刚说的")
	recent.Timestamp = now.Add(-5 * time.Minute)
	_, err := st.AppendMessage(context.Background(), recent)
	require.NoError(t, err)

	_, err = mgr.Respond(context.Background(), "luna")
	require.NoError(t, err)

	for _, m := range mock.Calls()[0].Messages {
		assert.NotContains(t, m.Content, "passed since the last message")
	}
}

func TestSend_ScheduleDirectiveRegistersFutureOnly(t *testing.T) {
	st, mock, mgr := newFixture(t)
	mock.Enqueue("到时候提醒你！\n[schedule_message | 2099-01-01 09:00:00 | fixed | 新年快乐]\n[schedule_message | 2000-01-01 09:00:00 | fixed | 过期的]")

	_, err := mgr.Send(context.Background(), "luna", "元旦叫我")
	require.NoError(t, err)

	due, err := st.DueScheduled(context.Background(), core.OneToOne("luna"), time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "新年快乐", due[0].Content)
}

func TestSend_AddEventAndTransfer(t *testing.T) {
	st, mock, mgr := newFixture(t)
	mock.Enqueue("[[ACTION:ADD_EVENT | 看电影 | 2026-09-01]][[ACTION:TRANSFER: 52.0]]好期待！")

	out, err := mgr.Send(context.Background(), "luna", "周末看电影？")
	require.NoError(t, err)

	events := st.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "看电影", events[0].Title)
	assert.Equal(t, "2026-09-01", events[0].Date)
	assert.Equal(t, "luna", events[0].CharacterID)

	require.Len(t, out, 2)
	assert.Equal(t, core.MessageTransfer, out[0].Type)
	assert.Equal(t, "52.0", out[0].Content)
	assert.Equal(t, "好期待！", out[1].Content)
}

func TestSend_StripsSpeakerEcho(t *testing.T) {
	_, mock, mgr := newFixture(t)
	mock.Enqueue("Luna: 我在呀。")

	out, err := mgr.Send(context.Background(), "luna", "在吗")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "我在呀。", out[0].Content)
}
