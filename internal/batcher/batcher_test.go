package batcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openafc/afc-telemetry-core/internal/errs"
)

// TestCoalescing covers P5: concurrent callers submitting the same key
// before the worker drains the queue trigger exactly one Fetch call.
func TestCoalescing(t *testing.T) {
	var calls int32
	release := make(chan struct{})

	b := New[string, string](func(ctx context.Context, keys []string) (map[string]string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		out := make(map[string]string, len(keys))
		for _, k := range keys {
			out[k] = "value:" + k
		}
		return out, nil
	}, 1000)
	defer b.Close()

	const n = 100
	var wg sync.WaitGroup
	results := make([]string, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			v, found, err := b.Get(context.Background(), "fp-1", time.Now().Add(5*time.Second))
			require.NoError(t, err)
			require.True(t, found)
			results[i] = v
		}(i)
	}

	time.Sleep(50 * time.Millisecond) // let every caller join the in-flight waiter list
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for _, r := range results {
		require.Equal(t, "value:fp-1", r)
	}
}

// TestImmediateTimeoutOnPastDeadline covers scenario 6: a deadline already
// in the past returns immediately without enqueuing.
func TestImmediateTimeoutOnPastDeadline(t *testing.T) {
	called := false
	b := New[string, string](func(ctx context.Context, keys []string) (map[string]string, error) {
		called = true
		return nil, nil
	}, 10)
	defer b.Close()

	_, _, err := b.Get(context.Background(), "k", time.Now())
	require.ErrorIs(t, err, errs.ErrDeadlineExpired)
	require.False(t, called)
}

// TestTimeoutIsolation covers P8: a caller that times out does not affect
// the result still-waiting callers on the same key receive.
func TestTimeoutIsolation(t *testing.T) {
	release := make(chan struct{})
	b := New[string, string](func(ctx context.Context, keys []string) (map[string]string, error) {
		<-release
		return map[string]string{"k": "ok"}, nil
	}, 10)
	defer b.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, err := b.Get(context.Background(), "k", time.Now().Add(20*time.Millisecond))
		require.ErrorIs(t, err, errs.ErrDeadlineExpired)
	}()

	time.Sleep(5 * time.Millisecond)

	var v string
	var found bool
	var err error
	wg2 := make(chan struct{})
	go func() {
		v, found, err = b.Get(context.Background(), "k", time.Now().Add(5*time.Second))
		close(wg2)
	}()

	time.Sleep(40 * time.Millisecond) // first caller's deadline has now passed
	close(release)
	<-wg2
	wg.Wait()

	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "ok", v)
}
