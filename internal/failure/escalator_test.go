package failure

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	mu    sync.Mutex
	stops int
	exits []int
}

func (r *recorder) stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

func (r *recorder) exit(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exits = append(r.exits, code)
}

func TestEscalatesAfterSixthFailure(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	esc := New(DefaultThreshold, rec.stop, rec.exit, zap.NewNop())

	for i := 1; i <= 5; i++ {
		esc.Record(fmt.Errorf("failure %d", i))
	}
	require.Zero(t, rec.stops)
	require.Empty(t, rec.exits)

	esc.Record(errors.New("failure 6"))
	require.Equal(t, 1, rec.stops)
	require.Equal(t, []int{1}, rec.exits)

	esc.Record(errors.New("failure 7"))
	require.Equal(t, 1, rec.stops, "stop runs exactly once")
	require.Equal(t, []int{1}, rec.exits)
	require.EqualValues(t, 7, esc.Count())
}

func TestEscalationLogsEveryFailure(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	rec := &recorder{}
	esc := New(1, func() error { return errors.New("already dead") }, rec.exit, zap.New(core))

	esc.Record(errors.New("first"))
	esc.Record(errors.New("second"))

	require.Equal(t, 2, logs.FilterMessage("unexpected failure").Len())
	require.Equal(t, 1, logs.FilterMessage("failure threshold exceeded, shutting instance down").Len())
	require.Equal(t, 1, logs.FilterMessage("browser stop failed").Len())
	require.Equal(t, []int{1}, rec.exits, "exit still happens when stop fails")
}

func TestEscalatesOnceUnderConcurrency(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	esc := New(DefaultThreshold, rec.stop, rec.exit, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			esc.Record(errors.New("boom"))
		}()
	}
	wg.Wait()

	require.EqualValues(t, 50, esc.Count())
	require.Equal(t, 1, rec.stops)
	require.Equal(t, []int{1}, rec.exits)
}

func TestNewDefaultsThreshold(t *testing.T) {
	t.Parallel()

	esc := New(0, nil, nil, nil)
	require.EqualValues(t, DefaultThreshold, esc.threshold)
	for i := 0; i < 10; i++ {
		esc.Record(errors.New("boom"))
	}
	require.EqualValues(t, 10, esc.Count())
}
