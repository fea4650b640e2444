package sendgate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/chatsession/internal/clock"
	"github.com/nfrund/chatsession/internal/domain"
)

func newTestGate(t *testing.T) (*Gate, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Date(2026, 1, 30, 12, 0, 0, 0, time.UTC))
	g := New(WithClock(fake), WithLocalUser("me"))
	t.Cleanup(g.Stop)
	return g, fake
}

const connected = domain.StateConnected

func TestGate_ThirdRapidSendLocksForFifteenSeconds(t *testing.T) {
	g, fake := newTestGate(t)

	var penaltyUntil time.Time
	g.OnPenalty(func(until time.Time) { penaltyUntil = until })
	start := fake.Now()

	g.RecordSend()
	fake.Advance(time.Second)
	g.RecordSend()
	fake.Advance(time.Second)
	g.RecordSend()

	assert.Equal(t, start.Add(17*time.Second), penaltyUntil)
	assert.Zero(t, g.Streak(), "streak resets when the penalty starts")
	assert.False(t, g.CanSend(connected, "hi"))

	fake.Advance(14*time.Second + 900*time.Millisecond)
	assert.False(t, g.CanSend(connected, "hi"))
	assert.Equal(t, 100*time.Millisecond, g.PenaltyRemaining())

	fake.Advance(100 * time.Millisecond)
	assert.True(t, g.CanSend(connected, "hi"))
	assert.Zero(t, g.PenaltyRemaining())
}

func TestGate_RejectionCarriesRemaining(t *testing.T) {
	g, fake := newTestGate(t)
	for i := 0; i < 3; i++ {
		g.RecordSend()
	}
	fake.Advance(5 * time.Second)

	err := g.Evaluate(connected, "hi")
	var rej *domain.RateLimitRejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, 10*time.Second, rej.Remaining)
}

func TestGate_ForeignMessageResetsStreak(t *testing.T) {
	g, fake := newTestGate(t)

	g.RecordSend()
	fake.Advance(time.Second)
	g.RecordSend()
	g.RecordForeignMessage("someone-else")
	fake.Advance(time.Second)
	g.RecordSend()

	assert.Equal(t, 1, g.Streak())
	assert.True(t, g.CanSend(connected, "hi"))
}

func TestGate_OwnEchoDoesNotResetStreak(t *testing.T) {
	g, _ := newTestGate(t)
	g.RecordSend()
	g.RecordForeignMessage("me")
	assert.Equal(t, 1, g.Streak())
}

func TestGate_IdleTimerIsResetByEachSend(t *testing.T) {
	g, fake := newTestGate(t)

	g.RecordSend()
	fake.Advance(29 * time.Second)
	g.RecordSend()

	assert.Equal(t, 2, g.Streak())
	assert.Len(t, g.RecentSends(), 2)
}

func TestGate_IdleSilenceResetsStreak(t *testing.T) {
	g, fake := newTestGate(t)

	g.RecordSend()
	fake.Advance(31 * time.Second)
	assert.Zero(t, g.Streak())

	g.RecordSend()
	assert.Equal(t, 1, g.Streak())
}

func TestGate_StaleIdleTimerDoesNotResetNewStreak(t *testing.T) {
	g, fake := newTestGate(t)

	g.RecordSend()
	fake.Advance(20 * time.Second)
	g.RecordSend()
	fake.Advance(15 * time.Second)

	assert.Equal(t, 2, g.Streak(), "first timer was cancelled by the second send")
	fake.Advance(15 * time.Second)
	assert.Zero(t, g.Streak())
}

func TestGate_EvaluateRejectsEmptyAndDisconnected(t *testing.T) {
	g, _ := newTestGate(t)

	assert.ErrorIs(t, g.Evaluate(domain.StateReconnecting, "hi"), domain.ErrNotConnected)
	assert.ErrorIs(t, g.Evaluate(connected, " \t\n"), domain.ErrEmptyMessage)
	assert.ErrorIs(t, g.Evaluate(connected, "　"), domain.ErrEmptyMessage)
	assert.NoError(t, g.Evaluate(connected, "é"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "\u00e9", Normalize("  e\u0301 "))
}

func TestGate_StopCancelsIdleTimer(t *testing.T) {
	g, fake := newTestGate(t)
	g.RecordSend()
	require.Equal(t, 1, fake.Pending())

	g.Stop()
	assert.Zero(t, fake.Pending())
	g.RecordSend()
	assert.Equal(t, 1, g.Streak(), "sends after stop are not recorded")
}
