package circuitbreaker

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowrun/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := New(config.CircuitConfig{
		FailureThreshold: threshold,
		Cooldown:         time.Minute,
		MaxCooldown:      5 * time.Minute,
	}, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
	b.now = clk.Now

	return b, clk
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	for range 2 {
		b.RecordFailure("httprequest", "boom")

		ok, _ := b.CanExecute("httprequest")
		assert.True(t, ok)
	}

	b.RecordFailure("httprequest", "boom")

	ok, reason := b.CanExecute("httprequest")
	assert.False(t, ok)
	assert.Contains(t, reason, "circuit open")

	status := b.Status("httprequest")
	assert.Equal(t, string(StateOpen), status.State)
	assert.Equal(t, 3, status.FailureCount)
	assert.Equal(t, "boom", status.LastError)
	require.NotNil(t, status.OpenedAt)
	require.NotNil(t, status.RecoveryAt)
	assert.InDelta(t, 60, status.SecondsUntilRecovery, 0.001)

	other, _ := b.CanExecute("transform")
	assert.True(t, other)
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b, clk := newTestBreaker(2)

	b.RecordFailure("llm", "e1")
	b.RecordFailure("llm", "e2")

	clk.now = clk.now.Add(time.Minute)

	ok, _ := b.CanExecute("llm")
	require.True(t, ok)
	assert.Equal(t, string(StateHalfOpen), b.Status("llm").State)

	second, reason := b.CanExecute("llm")
	assert.False(t, second)
	assert.Contains(t, reason, "trial in progress")

	b.RecordSuccess("llm")

	status := b.Status("llm")
	assert.Equal(t, string(StateClosed), status.State)
	assert.Zero(t, status.FailureCount)
	assert.Nil(t, status.OpenedAt)

	ok, _ = b.CanExecute("llm")
	assert.True(t, ok)
}

func TestBreaker_HalfOpenFailureReopensWithBackoff(t *testing.T) {
	b, clk := newTestBreaker(1)

	b.RecordFailure("llm", "down")

	expected := []time.Duration{2 * time.Minute, 4 * time.Minute, 5 * time.Minute, 5 * time.Minute}

	cooldown := time.Minute
	for i, next := range expected {
		clk.now = clk.now.Add(cooldown)

		ok, _ := b.CanExecute("llm")
		require.True(t, ok, "trial %d", i)

		b.RecordFailure("llm", "still down")

		status := b.Status("llm")
		assert.Equal(t, string(StateOpen), status.State)
		assert.Equal(t, i+1, status.ReopenCount)
		assert.InDelta(t, next.Seconds(), status.SecondsUntilRecovery, 0.001)

		clk.now = clk.now.Add(next - time.Second)
		ok, _ = b.CanExecute("llm")
		assert.False(t, ok)

		clk.now = clk.now.Add(-next + time.Second)
		cooldown = next
	}
}

func TestBreaker_StaleTrialIsReplaced(t *testing.T) {
	b, clk := newTestBreaker(1)

	b.RecordFailure("llm", "down")
	clk.now = clk.now.Add(time.Minute)

	ok, _ := b.CanExecute("llm")
	require.True(t, ok)

	clk.now = clk.now.Add(time.Minute)

	ok, _ = b.CanExecute("llm")
	assert.True(t, ok)
}

func TestBreaker_ResetAndAll(t *testing.T) {
	b, _ := newTestBreaker(1)

	var (
		mu          sync.Mutex
		transitions []string
	)

	b.OnStateChange(func(nodeType string, from, to State) {
		mu.Lock()
		defer mu.Unlock()

		transitions = append(transitions, nodeType+":"+string(from)+"->"+string(to))
	})

	b.RecordFailure("b", "x")
	b.RecordSuccess("a")
	b.Reset("b")

	all := b.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].NodeType)
	assert.Equal(t, "b", all[1].NodeType)
	assert.Equal(t, string(StateClosed), all[1].State)
	assert.Empty(t, all[1].LastError)

	assert.Equal(t, []string{"b:closed->open", "b:open->closed"}, transitions)
}

func TestBreaker_ConcurrentFailures(t *testing.T) {
	b, _ := newTestBreaker(50)

	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			b.RecordFailure("httprequest", "boom")
			b.CanExecute("httprequest")
		}()
	}

	wg.Wait()

	status := b.Status("httprequest")
	assert.Equal(t, string(StateOpen), status.State)
	assert.Equal(t, 100, status.FailureCount)
}
