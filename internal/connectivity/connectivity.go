// Package connectivity provides online/offline signal sources.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Source emits connectivity changes. The first value on a new channel is the
// current state; later values are sent only on change. The channel is closed
// when ctx is done.
type Source interface {
	Updates(ctx context.Context) <-chan bool
}

// Manual is a switch flipped by the caller. The zero value is offline.
type Manual struct {
	mu     sync.Mutex
	online bool
	subs   map[chan bool]struct{}
}

// NewManual returns a Manual switch in the given state.
func NewManual(online bool) *Manual {
	return &Manual{online: online}
}

// Set changes the state and notifies subscribers if it changed.
func (m *Manual) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return
	}
	m.online = online
	for ch := range m.subs {
		// drop a stale undelivered value so the latest state wins
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
}

// Online returns the current state.
func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Manual) Updates(ctx context.Context) <-chan bool {
	in := make(chan bool, 1)
	m.mu.Lock()
	if m.subs == nil {
		m.subs = make(map[chan bool]struct{})
	}
	m.subs[in] = struct{}{}
	in <- m.online
	m.mu.Unlock()

	out := make(chan bool)
	go func() {
		defer close(out)
		defer func() {
			m.mu.Lock()
			delete(m.subs, in)
			m.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case v := <-in:
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Prober polls a health endpoint and reports online while it answers 2xx.
type Prober struct {
	url      string
	interval time.Duration
	client   *http.Client
	log      *slog.Logger
}

// NewProber creates a Prober for url (typically the remote service's /healthz).
func NewProber(url string, interval time.Duration, log *slog.Logger) *Prober {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Prober{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		log:      log,
	}
}

func (p *Prober) Updates(ctx context.Context) <-chan bool {
	out := make(chan bool)
	go func() {
		defer close(out)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		first := true
		var last bool
		for {
			online := p.probe(ctx)
			if first || online != last {
				if !first {
					p.log.Info("connectivity changed", "online", online, "url", p.url)
				}
				select {
				case out <- online:
				case <-ctx.Done():
					return
				}
				first, last = false, online
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}

func (p *Prober) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
