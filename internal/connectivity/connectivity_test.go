package connectivity

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no connectivity update")
		return false
	}
}

// TestManualEmitsCurrentThenChanges verifies a subscriber sees the current
// state first and then only real changes.
func TestManualEmitsCurrentThenChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManual(false)
	ch := m.Updates(ctx)
	assert.False(t, recv(t, ch))

	m.Set(false)
	m.Set(true)
	assert.True(t, recv(t, ch))
	assert.True(t, m.Online())

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 10*time.Millisecond)
}

// TestProberFollowsHealthEndpoint verifies the prober reports online while the
// endpoint answers 2xx and offline otherwise.
func TestProberFollowsHealthEndpoint(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewProber(srv.URL, 20*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ch := p.Updates(ctx)
	assert.True(t, recv(t, ch))

	healthy.Store(false)
	assert.False(t, recv(t, ch))

	healthy.Store(true)
	assert.True(t, recv(t, ch))
}
