package kokoro

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokoro-chat/kokoro/config"
	"github.com/kokoro-chat/kokoro/core"
	"github.com/kokoro-chat/kokoro/model"
	"github.com/kokoro-chat/kokoro/segment"
	"github.com/kokoro-chat/kokoro/store"
)

func TestEngine_SendAndReroll(t *testing.T) {
	mock := model.NewMockModel()
	mock.Enqueue("你好呀。", "再说一次，你好！")

	engine := New(mock, func(o *Options) {
		o.TypingDelay = segment.NoDelay
	})
	st := engine.Store().(*store.InMemoryStore)
	st.SeedPersona(core.PersonaProfile{ID: "luna", Name: "Luna"})
	st.SeedUserProfile(core.UserProfile{Name: "Alex"})

	out, err := engine.Send(context.Background(), "luna", "在吗？")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "你好呀。", out[0].Content)

	out, err = engine.Reroll(context.Background(), "luna")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "再说一次，你好！", out[0].Content)

	msgs, err := st.Messages(context.Background(), core.OneToOne("luna"), core.MessageQuery{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, "再说一次，你好！", msgs[1].Content)
}

func TestEngine_SamplingOptionsReachBothPipelines(t *testing.T) {
	mock := model.NewMockModel()
	mock.Enqueue("好的。", `[{"agentId":"luna","content":"好的。"}]`)

	engine := New(mock, func(o *Options) {
		o.TypingDelay = segment.NoDelay
		o.Temperature = 0.4
		o.MaxTokens = 128
	})
	st := engine.Store().(*store.InMemoryStore)
	st.SeedPersona(core.PersonaProfile{ID: "luna", Name: "Luna"})
	st.SeedUserProfile(core.UserProfile{Name: "Alex"})
	st.SeedGroup(core.GroupProfile{ID: "g1", Name: "Night Owls", MemberIDs: []string{"luna"}})

	_, err := engine.Send(context.Background(), "luna", "在吗？")
	require.NoError(t, err)
	_, err = engine.SendToGroup(context.Background(), "g1", "大家好")
	require.NoError(t, err)

	calls := mock.Calls()
	require.Len(t, calls, 2)
	for _, call := range calls {
		assert.Equal(t, 0.4, call.Temperature)
		assert.Equal(t, int64(128), call.MaxTokens)
	}
}

func TestNewFromConfig(t *testing.T) {
	var cfg config.Config
	cfg.Model.Provider = "openai"
	cfg.Model.Name = "gpt-4o-mini"
	cfg.Engine.HistoryLimit = 10
	cfg.Engine.TimeGapHint = "1h"
	cfg.Engine.ScheduleInterval = "5s"
	cfg.Log.Level = "error"
	cfg.Log.Format = "text"

	engine, err := NewFromConfig(&cfg)
	require.NoError(t, err)
	assert.NotNil(t, engine.Store())

	cfg.Model.Provider = "gemini"
	_, err = NewFromConfig(&cfg)
	assert.Error(t, err)
}
