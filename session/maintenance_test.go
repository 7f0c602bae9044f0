package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshImpression_CreatesAndVersions(t *testing.T) {
	st, mock, mgr := newFixture(t)
	mock.Enqueue(`{"traits": ["thoughtful"], "likes": ["the sea"], "dislikes": [], "triggers": [], "comfort_zone": "late night talks"}`)

	imp, err := mgr.RefreshImpression(context.Background(), "luna")
	require.NoError(t, err)
	assert.Equal(t, 1, imp.Version)
	assert.Equal(t, []string{"thoughtful"}, imp.Traits)

	stored, err := st.Persona(context.Background(), "luna")
	require.NoError(t, err)
	require.NotNil(t, stored.Impression)
	assert.Equal(t, "late night talks", stored.Impression.ComfortZone)

	// A second pass bumps the version and extends the change log.
	mock.Enqueue("```json\n{\"traits\": [\"thoughtful\", \"patient\"], \"likes\": [], \"dislikes\": [], \"triggers\": [], \"comfort_zone\": \"\"}\n```")
	imp, err = mgr.RefreshImpression(context.Background(), "luna")
	require.NoError(t, err)
	assert.Equal(t, 2, imp.Version)
	assert.Len(t, imp.ChangeLog, 2)
}

func TestRefreshImpression_UnparsableReplyFails(t *testing.T) {
	st, mock, mgr := newFixture(t)
	mock.Enqueue("I think they are nice.")

	_, err := mgr.RefreshImpression(context.Background(), "luna")
	require.Error(t, err)

	stored, err := st.Persona(context.Background(), "luna")
	require.NoError(t, err)
	assert.Nil(t, stored.Impression, "a bad reply must not clobber the profile")
}

func TestArchiveMonth_StoresRefinedSummary(t *testing.T) {
	st, mock, mgr := newFixture(t)
	mock.Enqueue("我们那个月一起计划了海边的旅行。")

	summary, err := mgr.ArchiveMonth(context.Background(), "luna", "2025-03")
	require.NoError(t, err)
	assert.Equal(t, "我们那个月一起计划了海边的旅行。", summary)

	stored, err := st.Persona(context.Background(), "luna")
	require.NoError(t, err)
	assert.Equal(t, summary, stored.Memory.Refined["2025-03"])
	assert.NotEmpty(t, stored.Memory.RawForMonth("2025-03"), "raw entries survive archival")
}

func TestArchiveMonth_NoRawEntries(t *testing.T) {
	_, _, mgr := newFixture(t)

	_, err := mgr.ArchiveMonth(context.Background(), "luna", "1999-01")
	assert.Error(t, err)
}
