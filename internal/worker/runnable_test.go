package worker_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmill/internal/worker"
)

func TestRegistryLookup(t *testing.T) {
	t.Parallel()

	rec := &recorder{counts: map[int]int{}}
	reg, err := worker.NewRegistry(rec, panicker{})
	require.NoError(t, err)

	got, ok := reg.Lookup("record")
	assert.True(t, ok)
	assert.Equal(t, rec, got)

	_, ok = reg.Lookup("ghost")
	assert.False(t, ok)

	assert.Equal(t, []string{"panic", "record"}, reg.Kinds())
}

func TestRegistryRejectsDuplicateKind(t *testing.T) {
	t.Parallel()

	_, err := worker.NewRegistry(panicker{}, panicker{})
	assert.Error(t, err)
}

func TestBaseDefaults(t *testing.T) {
	t.Parallel()

	var b worker.Base
	assert.Nil(t, b.Cron())
	assert.Nil(t, b.UniqKey())
	assert.Equal(t, worker.DefaultMaxRetries, b.MaxRetries())
}

func TestExecutionErrorMessage(t *testing.T) {
	t.Parallel()

	err := worker.ExecutionError{Description: "payload rejected"}
	assert.Equal(t, "payload rejected", err.Error())
}
