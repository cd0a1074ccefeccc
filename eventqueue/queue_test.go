package eventqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JupiterOne/integration-sdk/pkg/retry"
)

// recordingPoster captures delivered events and can inject latency and
// failures.
type recordingPoster struct {
	mu       sync.Mutex
	events   []Event
	delay    time.Duration
	failures map[string]int // event name -> remaining failures
}

func (p *recordingPoster) PostEvent(_ context.Context, event Event) error {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if remaining, ok := p.failures[event.Name]; ok && remaining > 0 {
		p.failures[event.Name] = remaining - 1
		return errors.New("simulated post failure")
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPoster) delivered() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.events))
	for i, e := range p.events {
		names[i] = e.Name
	}
	return names
}

func TestQueue_DeliversInOrder(t *testing.T) {
	poster := &recordingPoster{delay: 5 * time.Millisecond}
	queue := NewQueue(poster)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)

	queue.Enqueue(Event{Name: "step_start(a)"})
	queue.Enqueue(Event{Name: "step_end(a)"})
	queue.Enqueue(Event{Name: "step_start(b)"})

	require.NoError(t, queue.OnIdle(ctx))
	assert.Equal(t, []string{"step_start(a)", "step_end(a)", "step_start(b)"}, poster.delivered())
}

func TestQueue_OnIdleWaitsForInFlightPost(t *testing.T) {
	poster := &recordingPoster{delay: 50 * time.Millisecond}
	queue := NewQueue(poster)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)

	queue.Enqueue(Event{Name: "slow"})

	start := time.Now()
	require.NoError(t, queue.OnIdle(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, []string{"slow"}, poster.delivered())
}

func TestQueue_RetriesTransientFailures(t *testing.T) {
	poster := &recordingPoster{failures: map[string]int{"flaky": 2}}
	queue := NewQueue(poster, WithRetryConfig(retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)

	queue.Enqueue(Event{Name: "flaky"})
	require.NoError(t, queue.OnIdle(ctx))

	assert.Equal(t, []string{"flaky"}, poster.delivered())
}

func TestQueue_DropsAfterExhaustedRetries(t *testing.T) {
	poster := &recordingPoster{failures: map[string]int{"doomed": 100}}
	queue := NewQueue(poster, WithRetryConfig(retry.Config{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)

	queue.Enqueue(Event{Name: "doomed"})
	queue.Enqueue(Event{Name: "survivor"})
	require.NoError(t, queue.OnIdle(ctx))

	// The queue survives individual event failures.
	assert.Equal(t, []string{"survivor"}, poster.delivered())
}

func TestQueue_OnIdleImmediateWhenEmpty(t *testing.T) {
	queue := NewQueue(&recordingPoster{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)

	require.NoError(t, queue.OnIdle(ctx))
}

func TestQueue_OnIdleHonorsContext(t *testing.T) {
	poster := &recordingPoster{delay: time.Second}
	queue := NewQueue(poster)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)

	queue.Enqueue(Event{Name: "slow"})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer waitCancel()
	assert.ErrorIs(t, queue.OnIdle(waitCtx), context.DeadlineExceeded)
}

func TestQueue_StopDiscardsPending(t *testing.T) {
	poster := &recordingPoster{delay: 20 * time.Millisecond}
	queue := NewQueue(poster)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)

	queue.Enqueue(Event{Name: "first"})
	time.Sleep(5 * time.Millisecond)
	queue.Enqueue(Event{Name: "pending"})

	require.NoError(t, queue.Stop(time.Second))

	// Enqueue after stop is discarded without panicking.
	queue.Enqueue(Event{Name: "late"})
	assert.NotContains(t, poster.delivered(), "late")
}

func TestQueue_StampsOccurredAt(t *testing.T) {
	poster := &recordingPoster{}
	queue := NewQueue(poster)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)

	queue.Enqueue(Event{Name: "stamped"})
	require.NoError(t, queue.OnIdle(ctx))

	poster.mu.Lock()
	defer poster.mu.Unlock()
	require.Len(t, poster.events, 1)
	assert.False(t, poster.events[0].OccurredAt.IsZero())
}
