package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hcnet/hcgo/hcerr"
	"github.com/hcnet/hcgo/protocol"
)

const handshakeStepTimeout = 10 * time.Second
const allMandatoryValuesTimeout = 30 * time.Second

// runHandshake executes the ordered handshake sequence described in
// §4.4, triggered by the first inbound /ei/initialValues message. It runs
// in its own goroutine because its send_sync calls must not block the read
// loop that invoked it.
func (s *Session) runHandshake(ctx context.Context, initial protocol.Message) {
	s.setState(StateHandshaking)

	err := s.doHandshake(ctx, initial)
	if err != nil {
		s.logger.Printf("session: handshake failed: %v", err)
		s.observer.OnHandshakeStep("failed", err)
		s.failTerminal(hcerr.Wrap(hcerr.StageHandshake, hcerr.ClassifyHandshakeCode(err), err))
		return
	}

	s.mu.Lock()
	s.state = StateConnected
	s.mu.Unlock()
	close(s.connectedCh)
	s.observer.OnHandshakeStep("connected", nil)
}

func (s *Session) doHandshake(ctx context.Context, initial protocol.Message) error {
	// Step 1: capture sid, seed next_msg_id from data[0].edMsgID if present.
	s.mu.Lock()
	s.sid = initial.SID
	if len(initial.Data) > 0 {
		var seed struct {
			EdMsgID *int64 `json:"edMsgID"`
		}
		if err := json.Unmarshal(initial.Data[0], &seed); err == nil && seed.EdMsgID != nil {
			s.nextMsgID = *seed.EdMsgID
		}
	}
	s.mu.Unlock()
	s.observer.OnHandshakeStep("captured_sid", nil)

	// Step 2: RESPONSE to /ei/initialValues with our device identity. This is
	// sent before /ci/services completes, so version filling falls back to 1
	// (see the open question this preserves rather than resolves).
	reply := protocol.Message{
		Resource: "/ei/initialValues",
		Action:   protocol.ActionResponse,
		SID:      initial.SID,
		MsgID:    initial.MsgID,
	}
	s.mu.Lock()
	v := s.versionFor(protocol.ServiceOf(reply.Resource))
	s.mu.Unlock()
	reply.Version = &v
	var err error
	reply.Data, err = marshalData(map[string]any{
		"deviceType": "Application",
		"deviceName": s.cfg.AppName,
		"deviceID":   s.cfg.AppID,
	})
	if err != nil {
		return err
	}
	if err := s.sendEncoded(ctx, reply); err != nil {
		return err
	}
	s.observer.OnHandshakeStep("replied_initial_values", nil)

	// Step 3: GET /ci/services, populate the service-version map.
	servicesCtx, cancel := context.WithTimeout(ctx, handshakeStepTimeout)
	resp, err := s.SendSync(servicesCtx, protocol.Message{Resource: "/ci/services", Action: protocol.ActionGet, Version: int32p(1)}, handshakeStepTimeout)
	cancel()
	if err != nil {
		return fmt.Errorf("ci/services: %w", err)
	}
	s.applyServiceVersions(resp)
	s.observer.OnHandshakeStep("ci_services", nil)

	// Step 4: if ci version < 3, authenticate, then best-effort ci/info.
	if v, ok := s.lookupServiceVersion("ci"); ok && v < 3 {
		nonce, nerr := randomNonce(32)
		if nerr != nil {
			return nerr
		}
		data, merr := marshalData(map[string]any{"nonce": nonce})
		if merr != nil {
			return merr
		}
		if _, err := s.sendSyncStep(ctx, "/ci/authentication", protocol.ActionGet, data, false); err != nil {
			return fmt.Errorf("ci/authentication: %w", err)
		}
		s.observer.OnHandshakeStep("ci_authentication", nil)
		_, _ = s.sendSyncStep(ctx, "/ci/info", protocol.ActionGet, nil, true)
	}

	// Step 5: best-effort iz/info if iz is known.
	if _, ok := s.lookupServiceVersion("iz"); ok {
		_, _ = s.sendSyncStep(ctx, "/iz/info", protocol.ActionGet, nil, true)
	}

	// Step 6: if ei version == 2, fire-and-forget NOTIFY /ei/deviceReady.
	if v, ok := s.lookupServiceVersion("ei"); ok && v == 2 {
		_ = s.notify(ctx, protocol.Message{Resource: "/ei/deviceReady", Action: protocol.ActionNotify})
		s.observer.OnHandshakeStep("ei_device_ready", nil)
	}

	// Step 7: best-effort ni/info if ni is known.
	if _, ok := s.lookupServiceVersion("ni"); ok {
		_, _ = s.sendSyncStep(ctx, "/ni/info", protocol.ActionGet, nil, true)
	}

	// Step 8: best-effort allDescriptionChanges and allMandatoryValues;
	// learn a keepalive UID from the first mandatory value if none was
	// configured.
	_, _ = s.sendSyncStepTimeout(ctx, "/ro/allDescriptionChanges", protocol.ActionGet, nil, true, allMandatoryValuesTimeout)
	mandatory, _ := s.sendSyncStepTimeout(ctx, "/ro/allMandatoryValues", protocol.ActionGet, nil, true, allMandatoryValuesTimeout)
	s.mu.Lock()
	haveUID := s.keepaliveUID != nil
	s.mu.Unlock()
	if !haveUID {
		if uid, ok := firstUIDFromValues(mandatory); ok {
			s.mu.Lock()
			s.keepaliveUID = &uid
			s.mu.Unlock()
		}
	}
	s.observer.OnHandshakeStep("ro_all_values", nil)

	// Step 9: connected=true is set by the caller (runHandshake) once this
	// function returns nil.
	return nil
}

func int32p(v int32) *int32 { return &v }

// applyServiceVersions parses /ci/services' response data as a list of
// {service, version} pairs into the service-version map.
func (s *Session) applyServiceVersions(resp protocol.Message) {
	type entry struct {
		Service string `json:"service"`
		Version int32  `json:"version"`
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, raw := range resp.Data {
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		if e.Service == "" {
			continue
		}
		s.serviceVersions[e.Service] = e.Version
	}
}

func (s *Session) lookupServiceVersion(service string) (int32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.serviceVersions[service]
	return v, ok
}

// sendSyncStep issues a GET/POST handshake sub-step. bestEffort swallows a
// RemoteError; any other error (e.g. NotConnected) is returned to the
// caller, and the best-effort call sites above discard it.
func (s *Session) sendSyncStep(ctx context.Context, resource string, action protocol.Action, data []json.RawMessage, bestEffort bool) (protocol.Message, error) {
	return s.sendSyncStepTimeout(ctx, resource, action, data, bestEffort, handshakeStepTimeout)
}

func (s *Session) sendSyncStepTimeout(ctx context.Context, resource string, action protocol.Action, data []json.RawMessage, bestEffort bool, timeout time.Duration) (protocol.Message, error) {
	resp, err := s.SendSync(ctx, protocol.Message{Resource: resource, Action: action, Data: data}, timeout)
	if err != nil {
		if bestEffort {
			var remote *hcerr.RemoteError
			if isRemoteError(err, &remote) {
				s.logger.Printf("session: handshake step %s returned remote error %d, continuing", resource, remote.Code)
				return resp, nil
			}
		}
		return resp, err
	}
	return resp, nil
}

func isRemoteError(err error, out **hcerr.RemoteError) bool {
	re, ok := err.(*hcerr.RemoteError)
	if ok {
		*out = re
	}
	return ok
}

// firstUIDFromValues extracts the uid of the first entry in a values
// response, used both for keepalive-UID learning at handshake time and for
// re-learning after a stale-UID keepalive failure.
func firstUIDFromValues(resp protocol.Message) (uint32, bool) {
	for _, raw := range resp.Data {
		var entry struct {
			UID *uint32 `json:"uid"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if entry.UID != nil {
			return *entry.UID, true
		}
	}
	return 0, false
}
