package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"shopsavr-agent/internal/backend"
)

type stubProber struct{ err error }

func (s *stubProber) Ping(context.Context) error { return s.err }

func restoredSignal(w *NetworkWatcher) bool {
	select {
	case <-w.Restored():
		return true
	default:
		return false
	}
}

func TestNetworkWatcherSignalsRestore(t *testing.T) {
	ctx := context.Background()
	p := &stubProber{}
	w := NewNetworkWatcher(p, 0, zerolog.Nop(), nil)

	assert.True(t, w.Online())
	assert.True(t, w.Check(ctx))
	assert.False(t, restoredSignal(w), "online to online is not a restore")

	p.err = &backend.NetworkError{Op: "GET /health", Err: errors.New("dial tcp: refused")}
	assert.False(t, w.Check(ctx))
	assert.False(t, w.Online())

	p.err = nil
	assert.True(t, w.Check(ctx))
	assert.True(t, restoredSignal(w))
	assert.False(t, restoredSignal(w))
}

func TestNetworkWatcherDisabled(t *testing.T) {
	w := NewNetworkWatcher(&stubProber{}, 0, zerolog.Nop(), nil)
	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run with a zero interval should return immediately")
	}
}

func TestWithRetry(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{"offline is retried", &backend.NetworkError{Op: "x", Err: errors.New("refused")}, 3},
		{"server error is retried", &backend.NetworkError{Op: "x", StatusCode: 502, Err: errors.New("bad gateway")}, 3},
		{"client error is final", &backend.NetworkError{Op: "x", StatusCode: 400, Err: errors.New("bad request")}, 1},
		{"unauthorized is final", fmt.Errorf("x: %w", backend.ErrUnauthorized), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := withRetry(context.Background(), 3, time.Millisecond, func(context.Context) error {
				calls++
				return tt.err
			})
			assert.Equal(t, tt.wantCalls, calls)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("succeeds after a transient failure", func(t *testing.T) {
		calls := 0
		err := withRetry(context.Background(), 3, time.Millisecond, func(context.Context) error {
			calls++
			if calls == 1 {
				return &backend.NetworkError{Op: "x", Err: errors.New("reset")}
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("cancelled context stops waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := withRetry(ctx, 3, time.Hour, func(context.Context) error {
			return &backend.NetworkError{Op: "x", Err: errors.New("refused")}
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
