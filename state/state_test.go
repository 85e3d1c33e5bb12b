package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskfortress/emergency"
)

func tempStatePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "state.json")
}

func TestNewStateManager_FreshStart(t *testing.T) {
	t.Parallel()

	sm, err := NewStateManager(tempStatePath(t))
	require.NoError(t, err)

	st := sm.GetFullState()
	assert.Equal(t, emergency.StateNormal, st.Emergency.State)
	assert.Empty(t, st.Emergency.Causes)
	assert.False(t, st.Emergency.UnresolvedPositions)
}

func TestStateManager_PersistsAcrossRestart(t *testing.T) {
	t.Parallel()

	path := tempStatePath(t)
	sm, err := NewStateManager(path)
	require.NoError(t, err)

	when := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	require.NoError(t, sm.UpdateEmergency(&EmergencyState{
		State: emergency.StateHalted,
		Causes: []emergency.Trigger{
			{Cause: emergency.CauseHardDrawdown, Detail: "dd 0.17", Timestamp: when},
		},
		RecoveryTokenHash:   "abc123",
		UnresolvedPositions: true,
	}))
	require.NoError(t, sm.UpdateAccount(&AccountMeta{
		HighWaterMark: "11500.5",
		DailyLoss:     "320",
		DailyTrades:   14,
		LastRollover:  when,
	}))

	// Simulate a restart: a fresh manager over the same file.
	sm2, err := NewStateManager(path)
	require.NoError(t, err)

	st := sm2.GetFullState()
	assert.Equal(t, emergency.StateHalted, st.Emergency.State)
	require.Len(t, st.Emergency.Causes, 1)
	assert.Equal(t, emergency.CauseHardDrawdown, st.Emergency.Causes[0].Cause)
	assert.Equal(t, "abc123", st.Emergency.RecoveryTokenHash)
	assert.True(t, st.Emergency.UnresolvedPositions)
	assert.Equal(t, "11500.5", st.Account.HighWaterMark)
	assert.Equal(t, 14, st.Account.DailyTrades)
}

func TestGetFullState_ReturnsDetachedCopy(t *testing.T) {
	t.Parallel()

	sm, err := NewStateManager(tempStatePath(t))
	require.NoError(t, err)

	st := sm.GetFullState()
	st.Emergency.State = emergency.StateHalted
	st.Account.DailyTrades = 99

	st2 := sm.GetFullState()
	assert.Equal(t, emergency.StateNormal, st2.Emergency.State)
	assert.Equal(t, 0, st2.Account.DailyTrades)
}
