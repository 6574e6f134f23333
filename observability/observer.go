// Package observability provides pluggable session lifecycle observers and
// a Prometheus adapter. The method set here matches session.Observer
// structurally (no import needed in either direction): connect outcomes,
// per-step handshake progress, keepalive probe results, MAC verification
// failures, and session close.
package observability

import (
	"sync"
	"sync/atomic"
)

// SessionObserver receives lifecycle notifications from a session. It
// mirrors session.Observer's method set so implementations here satisfy
// that interface without either package importing the other.
type SessionObserver interface {
	OnConnect(host string, mode string, err error)
	OnHandshakeStep(step string, err error)
	OnKeepaliveProbe(ok bool, err error)
	OnMACFailure()
	OnClose(err error)
}

type noopObserver struct{}

func (noopObserver) OnConnect(string, string, error) {}
func (noopObserver) OnHandshakeStep(string, error)   {}
func (noopObserver) OnKeepaliveProbe(bool, error)     {}
func (noopObserver) OnMACFailure()                    {}
func (noopObserver) OnClose(error)                    {}

// NoopObserver is a zero-cost observer used when metrics are disabled.
var NoopObserver SessionObserver = noopObserver{}

// AtomicObserver swaps its delegate at runtime without locking readers,
// the same pattern this codebase's ancestry uses for its tunnel/RPC
// observers (sync.Once-initialized atomic.Value holding a small wrapper
// struct, since atomic.Value requires a consistent concrete type).
type AtomicObserver struct {
	once sync.Once
	v    atomic.Value
}

type observerHolder struct {
	obs SessionObserver
}

// NewAtomicObserver returns an initialized atomic observer delegating to
// NoopObserver until Set is called.
func NewAtomicObserver() *AtomicObserver {
	a := &AtomicObserver{}
	a.once.Do(func() { a.v.Store(&observerHolder{obs: NoopObserver}) })
	return a
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicObserver) Set(obs SessionObserver) {
	if obs == nil {
		obs = NoopObserver
	}
	a.once.Do(func() { a.v.Store(&observerHolder{obs: NoopObserver}) })
	a.v.Store(&observerHolder{obs: obs})
}

func (a *AtomicObserver) load() SessionObserver {
	a.once.Do(func() { a.v.Store(&observerHolder{obs: NoopObserver}) })
	return a.v.Load().(*observerHolder).obs
}

func (a *AtomicObserver) OnConnect(host, mode string, err error) { a.load().OnConnect(host, mode, err) }
func (a *AtomicObserver) OnHandshakeStep(step string, err error) { a.load().OnHandshakeStep(step, err) }
func (a *AtomicObserver) OnKeepaliveProbe(ok bool, err error)     { a.load().OnKeepaliveProbe(ok, err) }
func (a *AtomicObserver) OnMACFailure()                           { a.load().OnMACFailure() }
func (a *AtomicObserver) OnClose(err error)                       { a.load().OnClose(err) }
