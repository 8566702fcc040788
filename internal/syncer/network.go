package syncer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"shopsavr-agent/internal/metrics"
)

// Prober checks whether the backend is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// NetworkWatcher probes the backend on an interval and signals when it
// becomes reachable again after being offline.
type NetworkWatcher struct {
	probe    Prober
	interval time.Duration
	log      zerolog.Logger
	metrics  *metrics.Metrics

	offline  atomic.Bool
	restored chan struct{}
}

func NewNetworkWatcher(p Prober, interval time.Duration, log zerolog.Logger, m *metrics.Metrics) *NetworkWatcher {
	return &NetworkWatcher{
		probe:    p,
		interval: interval,
		log:      log.With().Str("component", "network").Logger(),
		metrics:  m,
		restored: make(chan struct{}, 1),
	}
}

// Restored delivers one value per offline to online transition.
func (w *NetworkWatcher) Restored() <-chan struct{} { return w.restored }

// Online reports the result of the last probe. Before the first probe the
// backend is assumed reachable.
func (w *NetworkWatcher) Online() bool { return !w.offline.Load() }

// Check probes once and reports whether the backend answered.
func (w *NetworkWatcher) Check(ctx context.Context) bool {
	err := w.probe.Ping(ctx)
	online := err == nil
	w.metrics.SetOnline(online)

	wasOffline := w.offline.Swap(!online)
	switch {
	case online && wasOffline:
		w.log.Info().Msg("backend reachable again")
		select {
		case w.restored <- struct{}{}:
		default:
		}
	case !online && !wasOffline:
		w.log.Warn().Err(err).Msg("backend unreachable")
	}
	return online
}

// Run probes until ctx ends. A non-positive interval disables probing.
func (w *NetworkWatcher) Run(ctx context.Context) {
	if w.interval <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}
