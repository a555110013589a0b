package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestNewStore_SeedsDefaults(t *testing.T) {
	s := newTestStore(t)

	for _, agent := range Agents() {
		text, err := s.Active(agent)
		require.NoError(t, err)
		assert.NotEmpty(t, text)

		metas, active, err := s.ListVersions(agent)
		require.NoError(t, err)
		assert.Equal(t, 1, active)
		require.Len(t, metas, 1)
		assert.Equal(t, 1, metas[0].Version)
	}
}

func TestNewStore_ReopenKeepsState(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	v, err := s.CreateVersion(AgentPrimary, "revised prompt", "tightened scoring rules", true)
	require.NoError(t, err)

	// A fresh instance over the same directory sees the mutation.
	s2, err := NewStore(dir)
	require.NoError(t, err)
	text, err := s2.Active(AgentPrimary)
	require.NoError(t, err)
	assert.Equal(t, "revised prompt", text)

	metas, active, err := s2.ListVersions(AgentPrimary)
	require.NoError(t, err)
	assert.Equal(t, v, active)
	assert.Len(t, metas, 2)
}

func TestActivate_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	v2, err := s.CreateVersion(AgentChallenge, "v2 content", "", false)
	require.NoError(t, err)
	assert.Equal(t, 2, v2)

	// Still v1 active.
	_, active, err := s.ListVersions(AgentChallenge)
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	require.NoError(t, s.Activate(AgentChallenge, v2))
	text, err := s.Active(AgentChallenge)
	require.NoError(t, err)
	assert.Equal(t, "v2 content", text)
}

func TestActivate_MissingVersion(t *testing.T) {
	s := newTestStore(t)

	err := s.Activate(AgentPrimary, 99)
	require.Error(t, err)
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestActivate_UnknownAgent(t *testing.T) {
	s := newTestStore(t)

	err := s.Activate(Agent("made_up_agent"), 1)
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestDelete_ActiveVersionRejected(t *testing.T) {
	s := newTestStore(t)

	err := s.Delete(AgentDecision, 1)
	require.Error(t, err)
	var invalid *InvalidOperationError
	assert.ErrorAs(t, err, &invalid)

	// Still present.
	metas, _, err := s.ListVersions(AgentDecision)
	require.NoError(t, err)
	assert.Len(t, metas, 1)
}

func TestDelete_NonActiveRemoved(t *testing.T) {
	s := newTestStore(t)

	v2, err := s.CreateVersion(AgentPrimary, "v2", "", false)
	require.NoError(t, err)

	require.NoError(t, s.Delete(AgentPrimary, v2))

	metas, _, err := s.ListVersions(AgentPrimary)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, 1, metas[0].Version)

	_, err = s.GetVersion(AgentPrimary, v2)
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestCreateVersion_NumbersNeverReused(t *testing.T) {
	s := newTestStore(t)

	v2, err := s.CreateVersion(AgentPrimary, "v2", "", false)
	require.NoError(t, err)
	v3, err := s.CreateVersion(AgentPrimary, "v3", "", false)
	require.NoError(t, err)
	assert.Equal(t, 2, v2)
	assert.Equal(t, 3, v3)

	// Deleting the highest version must not free its number.
	require.NoError(t, s.Delete(AgentPrimary, v3))
	v4, err := s.CreateVersion(AgentPrimary, "v4", "", false)
	require.NoError(t, err)
	assert.Equal(t, 4, v4)
}

func TestCreateVersion_ActivateFlag(t *testing.T) {
	s := newTestStore(t)

	v, err := s.CreateVersion(AgentDecision, "new decision prompt", "json block enforced", true)
	require.NoError(t, err)

	text, err := s.Active(AgentDecision)
	require.NoError(t, err)
	assert.Equal(t, "new decision prompt", text)

	got, err := s.GetVersion(AgentDecision, v)
	require.NoError(t, err)
	assert.Equal(t, "json block enforced", got.Notes)
	assert.Equal(t, "new decision prompt", got.Content)
}
