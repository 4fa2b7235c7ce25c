package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitBriefly(m *MultiLimiter, name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	return m.Wait(ctx, name)
}

func TestMultiLimiter_DefaultLimiterCreatedOnDemand(t *testing.T) {
	m := NewMultiLimiter(0.001, 1)

	require.NoError(t, waitBriefly(m, "hackernews"))
	assert.Error(t, waitBriefly(m, "hackernews"), "burst of one is spent")
	assert.NoError(t, waitBriefly(m, "rss:blog"), "names are limited independently")
}

func TestMultiLimiter_UnlimitedWhenRateNotPositive(t *testing.T) {
	m := NewMultiLimiter(0, 0)

	for i := 0; i < 100; i++ {
		require.NoError(t, waitBriefly(m, "any"))
	}
}

func TestMultiLimiter_WaitRespectsContext(t *testing.T) {
	m := NewMultiLimiter(0.001, 1)
	require.NoError(t, m.Wait(context.Background(), "slow"))

	err := waitBriefly(m, "slow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow")
}

func TestMultiLimiter_AddLimiterOverridesDefault(t *testing.T) {
	m := NewMultiLimiter(0, 0)
	m.AddLimiter("strict", 0.001, 1)
	m.AddLimiter("open", 0, 0)

	require.NoError(t, waitBriefly(m, "strict"))
	assert.Error(t, waitBriefly(m, "strict"))

	for i := 0; i < 10; i++ {
		require.NoError(t, waitBriefly(m, "open"))
	}
	require.NoError(t, waitBriefly(m, "other"), "unlisted names keep the default")
}
