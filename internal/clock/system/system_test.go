package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClock_NowIsUTCMicroseconds(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := New().Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.Zero(t, got.Nanosecond()%int(time.Microsecond))
	require.True(t, got.After(before) && got.Before(after))
}

func TestClock_NonDecreasing(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	second := clk.Now()
	require.False(t, second.Before(first))
}
