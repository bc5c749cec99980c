package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloodWaitExtraction(t *testing.T) {
	wait, ok := FloodWait(tgerr.New(420, "FLOOD_WAIT_7"))
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, wait)

	_, ok = FloodWait(errors.New("connection reset"))
	assert.False(t, ok)

	_, ok = FloodWait(nil)
	assert.False(t, ok)
}

func TestRateLimiterWait(t *testing.T) {
	r := NewRateLimiter(1000, 1)
	require.NoError(t, r.Wait(context.Background()))
}

func TestRateLimiterFloodWaitPause(t *testing.T) {
	r := NewRateLimiter(1000, 1)
	r.SetFloodWait(60 * time.Millisecond)

	start := time.Now()
	require.NoError(t, r.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRateLimiterCanceledContext(t *testing.T) {
	r := NewRateLimiter(1000, 1)
	r.SetFloodWait(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, r.Wait(ctx))
}
