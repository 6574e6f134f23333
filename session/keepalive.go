package session

import (
	"context"
	"time"

	"github.com/hcnet/hcgo/hcerr"
	"github.com/hcnet/hcgo/protocol"
)

// keepaliveLoop wakes on the probe interval and, when idle long enough,
// sends a GET /ro/values probe for the keepalive UID. It exits as soon as
// ctx is canceled (session close), which replaces the source's generation
// counter with a context-scoped cancellation per the redesign note this
// spec preserves.
func (s *Session) keepaliveLoop(ctx context.Context) {
	if !s.cfg.KeepaliveEnabled {
		return
	}
	interval := s.cfg.KeepaliveProbeInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maybeProbe(ctx)
		}
	}
}

func (s *Session) maybeProbe(ctx context.Context) {
	s.mu.Lock()
	state := s.state
	uid := s.keepaliveUID
	lastRx := s.lastRxAt
	lastProbe := s.lastKeepaliveAt
	idle := s.cfg.KeepaliveIdleTimeout
	s.mu.Unlock()

	if state != StateConnected || uid == nil {
		return
	}
	now := time.Now()
	if !lastRx.IsZero() && now.Sub(lastRx) <= idle {
		return
	}
	if !lastProbe.IsZero() && now.Sub(lastProbe) <= idle {
		return
	}

	s.mu.Lock()
	s.lastKeepaliveAt = now
	s.mu.Unlock()

	data, err := marshalData(map[string]any{"uid": *uid})
	if err != nil {
		s.observer.OnKeepaliveProbe(false, err)
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.KeepaliveIdleTimeout)
	_, err = s.SendSync(probeCtx, protocol.Message{Resource: "/ro/values", Action: protocol.ActionGet, Data: data}, s.cfg.KeepaliveIdleTimeout)
	cancel()

	if err == nil {
		s.observer.OnKeepaliveProbe(true, nil)
		return
	}

	var remote *hcerr.RemoteError
	if re, ok := err.(*hcerr.RemoteError); ok {
		remote = re
	}
	if remote != nil && remote.Code == 400 {
		s.relearnKeepaliveUID(ctx)
		return
	}
	// Any other keepalive error is logged (via the observer) and ignored.
	s.observer.OnKeepaliveProbe(false, err)
}

// relearnKeepaliveUID implements the stale-UID recovery rule: restore the
// configured fallback UID if any, else re-issue /ro/allMandatoryValues and
// re-learn from the first value entry; disable probing if that fails.
func (s *Session) relearnKeepaliveUID(ctx context.Context) {
	s.mu.Lock()
	fallback := s.keepaliveFallback
	s.mu.Unlock()
	if fallback != nil {
		uid := *fallback
		s.mu.Lock()
		s.keepaliveUID = &uid
		s.mu.Unlock()
		s.observer.OnKeepaliveProbe(false, nil)
		return
	}

	resp, err := s.sendSyncStepTimeout(ctx, "/ro/allMandatoryValues", protocol.ActionGet, nil, true, allMandatoryValuesTimeout)
	if err != nil {
		s.disableKeepalive()
		s.observer.OnKeepaliveProbe(false, err)
		return
	}
	uid, ok := firstUIDFromValues(resp)
	if !ok {
		s.disableKeepalive()
		s.observer.OnKeepaliveProbe(false, nil)
		return
	}
	s.mu.Lock()
	s.keepaliveUID = &uid
	s.mu.Unlock()
}

func (s *Session) disableKeepalive() {
	s.mu.Lock()
	s.keepaliveUID = nil
	s.mu.Unlock()
}
