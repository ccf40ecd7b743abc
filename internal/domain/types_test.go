package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"taskmill/internal/domain"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	legal := []struct{ from, to domain.State }{
		{domain.StateNew, domain.StateInProgress},
		{domain.StateRetried, domain.StateInProgress},
		{domain.StateInProgress, domain.StateFinished},
		{domain.StateInProgress, domain.StateFailed},
		{domain.StateInProgress, domain.StateRetried},
	}
	for _, tc := range legal {
		assert.True(t, domain.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	all := []domain.State{
		domain.StateNew, domain.StateInProgress, domain.StateFinished,
		domain.StateFailed, domain.StateRetried,
	}
	isLegal := func(from, to domain.State) bool {
		for _, tc := range legal {
			if tc.from == from && tc.to == to {
				return true
			}
		}
		return false
	}
	for _, from := range all {
		for _, to := range all {
			if !isLegal(from, to) {
				assert.False(t, domain.CanTransition(from, to), "%s -> %s", from, to)
			}
		}
	}
}

func TestTerminalAndClaimable(t *testing.T) {
	t.Parallel()

	assert.True(t, domain.StateFinished.Terminal())
	assert.True(t, domain.StateFailed.Terminal())
	assert.False(t, domain.StateNew.Terminal())
	assert.False(t, domain.StateInProgress.Terminal())
	assert.False(t, domain.StateRetried.Terminal())

	assert.True(t, domain.StateNew.Claimable())
	assert.True(t, domain.StateRetried.Claimable())
	assert.False(t, domain.StateInProgress.Claimable())
	assert.False(t, domain.StateFinished.Claimable())
	assert.False(t, domain.StateFailed.Claimable())
}

func TestErrIllegalTransitionMessage(t *testing.T) {
	t.Parallel()

	err := domain.ErrIllegalTransition{From: domain.StateFailed, To: domain.StateInProgress}
	assert.Contains(t, err.Error(), "failed")
	assert.Contains(t, err.Error(), "in_progress")
}
