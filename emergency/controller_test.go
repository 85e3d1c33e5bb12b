package emergency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskfortress/logs"
	"riskfortress/risk"
)

func init() {
	logs.InitForTesting()
}

func haltedController(t *testing.T, hook TransitionHook, check HealthCheck) (*Controller, string) {
	t.Helper()
	c := NewController(hook, check)
	require.True(t, c.TriggerShutdown(CauseManual, "test"))
	token, err := c.CompleteHalt(false)
	require.NoError(t, err)
	return c, token
}

func TestTriggerShutdown_IsIdempotent(t *testing.T) {
	t.Parallel()

	c := NewController(nil, nil)

	assert.True(t, c.TriggerShutdown(CauseHardDrawdown, "first"))
	assert.Equal(t, StateHalting, c.State())

	// Concurrent or repeated triggers only append their cause.
	assert.False(t, c.TriggerShutdown(CauseVolatilityShock, "second"))
	assert.False(t, c.TriggerShutdown(CauseManual, "third"))
	assert.Equal(t, StateHalting, c.State())

	causes := c.Causes()
	require.Len(t, causes, 3)
	assert.Equal(t, CauseHardDrawdown, causes[0].Cause)
	assert.Equal(t, CauseVolatilityShock, causes[1].Cause)
}

func TestCompleteHalt_MintsTokenAndKeepsOnlyHash(t *testing.T) {
	t.Parallel()

	c := NewController(nil, nil)
	require.True(t, c.TriggerShutdown(CauseManual, "test"))

	token, err := c.CompleteHalt(false)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, StateHalted, c.State())

	sum := sha256.Sum256([]byte(token))
	assert.Equal(t, hex.EncodeToString(sum[:]), c.TokenHash())
	assert.NotEqual(t, token, c.TokenHash())
}

func TestCompleteHalt_RequiresHaltingState(t *testing.T) {
	t.Parallel()

	c := NewController(nil, nil)
	_, err := c.CompleteHalt(false)
	assert.Error(t, err)
}

func TestRecovery_FullCycle(t *testing.T) {
	t.Parallel()

	var transitions []Transition
	c, token := haltedController(t, func(tr Transition) {
		transitions = append(transitions, tr)
	}, nil)

	require.Nil(t, c.InitiateRecovery(token))
	assert.Equal(t, StateRecovering, c.State())

	_, err := c.FinishRecovery(true, "ok")
	require.NoError(t, err)
	assert.Equal(t, StateNormal, c.State())
	assert.Empty(t, c.Causes(), "a completed recovery clears the cause record")
	assert.Empty(t, c.TokenHash())

	// normal -> halting -> halted -> recovering -> normal
	require.Len(t, transitions, 4)
	assert.Equal(t, StateNormal, transitions[3].To)
}

func TestRecovery_TokenMismatchRejected(t *testing.T) {
	t.Parallel()

	c, _ := haltedController(t, nil, nil)

	rej := c.InitiateRecovery("not-the-token")
	require.NotNil(t, rej)
	assert.Equal(t, risk.ReasonInvalidConfirmation, rej.Reason)
	assert.Equal(t, StateHalted, c.State())
}

func TestRecovery_RequiresHaltedState(t *testing.T) {
	t.Parallel()

	c := NewController(nil, nil)
	rej := c.InitiateRecovery("whatever")
	require.NotNil(t, rej)
	assert.Equal(t, risk.ReasonInvalidConfirmation, rej.Reason)
}

func TestRecovery_BlockedByUnresolvedPositions(t *testing.T) {
	t.Parallel()

	c := NewController(nil, nil)
	require.True(t, c.TriggerShutdown(CauseExchangeOutage, "venue down"))
	token, err := c.CompleteHalt(true)
	require.NoError(t, err)
	require.True(t, c.UnresolvedPositions())

	rej := c.InitiateRecovery(token)
	require.NotNil(t, rej)
	assert.Equal(t, risk.ReasonUnresolvedPositions, rej.Reason)

	c.ResolvePositions()
	assert.False(t, c.UnresolvedPositions())
	assert.Nil(t, c.InitiateRecovery(token))
}

func TestRecovery_BlockedByHealthCheck(t *testing.T) {
	t.Parallel()

	healthy := false
	c, token := haltedController(t, nil, func() error {
		if !healthy {
			return errors.New("venue unreachable")
		}
		return nil
	})

	rej := c.InitiateRecovery(token)
	require.NotNil(t, rej)
	assert.Equal(t, risk.ReasonExchangeUnavailable, rej.Reason)
	assert.Equal(t, StateHalted, c.State())

	// The token survives a failed health check and works once it passes.
	healthy = true
	assert.Nil(t, c.InitiateRecovery(token))
}

func TestFinishRecovery_FailureReturnsToHaltedWithFreshToken(t *testing.T) {
	t.Parallel()

	c, token := haltedController(t, nil, nil)
	require.Nil(t, c.InitiateRecovery(token))

	newToken, err := c.FinishRecovery(false, "reconciliation failed")
	require.NoError(t, err)
	require.NotEmpty(t, newToken)
	assert.NotEqual(t, token, newToken)
	assert.Equal(t, StateHalted, c.State())

	// Old token is dead, the fresh one confirms.
	require.NotNil(t, c.InitiateRecovery(token))
	assert.Nil(t, c.InitiateRecovery(newToken))
}

func TestRestoreHalted_RehydratesEverything(t *testing.T) {
	t.Parallel()

	orig, token := haltedController(t, nil, nil)
	causes := orig.Causes()
	hash := orig.TokenHash()

	fresh := NewController(nil, nil)
	fresh.RestoreHalted(causes, hash, false)

	assert.Equal(t, StateHalted, fresh.State())
	assert.Equal(t, hash, fresh.TokenHash())
	require.Len(t, fresh.Causes(), len(causes))

	// The original token, issued before the restart, still confirms.
	assert.Nil(t, fresh.InitiateRecovery(token))
}
