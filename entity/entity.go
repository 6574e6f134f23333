// Package entity implements typed operations on one appliance feature:
// coercion, read/write with shadow-value tracking, and program
// select/start composition.
package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hcnet/hcgo/hcerr"
	"github.com/hcnet/hcgo/profile"
	"github.com/hcnet/hcgo/protocol"
)

// Transport is the single interface the entity runtime depends on. The
// session engine satisfies it; tests substitute a fake.
type Transport interface {
	SendSync(ctx context.Context, msg protocol.Message, timeout time.Duration) (protocol.Message, error)
}

// DefaultTimeout bounds entity operations that don't specify one.
const DefaultTimeout = 10 * time.Second

// Entity is the live, mutable runtime state of one appliance feature.
type Entity struct {
	mu sync.RWMutex

	uid  uint32
	name string

	protocolType    profile.ProtocolType
	hasProtocolType bool
	access          profile.Access
	available       profile.Availability
	min, max, step  *float64
	enumMap         map[int]string

	valueRaw       any
	valueShadowRaw any
	hasValue       bool
	hasShadow      bool

	transport Transport
}

// New constructs a runtime Entity from its immutable description.
func New(desc profile.EntityDescription, transport Transport) *Entity {
	return &Entity{
		uid:             desc.UID,
		name:            desc.Name,
		protocolType:    desc.ProtocolType,
		hasProtocolType: desc.HasProtocolType,
		access:          desc.Access,
		available:       desc.Available,
		min:             desc.Min,
		max:             desc.Max,
		step:            desc.Step,
		enumMap:         desc.EnumMap,
		transport:       transport,
	}
}

// UID returns the entity's stable identifier.
func (e *Entity) UID() uint32 { return e.uid }

// Name returns the entity's canonical dotted name.
func (e *Entity) Name() string { return e.name }

// Access returns the entity's current (mutable) access level.
func (e *Entity) Access() profile.Access {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.access
}

// Available returns the entity's current tri-valued availability.
func (e *Entity) Available() profile.Availability {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.available
}

// ShadowValue returns the last value the appliance acknowledged, and
// whether one has ever been recorded.
func (e *Entity) ShadowValue() (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.valueShadowRaw, e.hasShadow
}

// Read returns the current value, mapped through the enum label table when
// one is configured and the raw value matches an entry; otherwise the raw
// value is returned unchanged.
func (e *Entity) Read() (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.hasValue {
		return nil, false
	}
	if label, ok := e.lookupEnumLabel(e.valueRaw); ok {
		return label, true
	}
	return e.valueRaw, true
}

func (e *Entity) lookupEnumLabel(raw any) (string, bool) {
	if len(e.enumMap) == 0 {
		return "", false
	}
	code := int(coerceInt(raw))
	label, ok := e.enumMap[code]
	return label, ok
}

// Write coerces v to the entity's protocol type and POSTs it to
// /ro/values. On a response without an error code, the shadow value is
// updated to the coerced value actually sent.
func (e *Entity) Write(ctx context.Context, v any) error {
	e.mu.RLock()
	access := e.access
	available := e.available
	pt := e.protocolType
	hasPT := e.hasProtocolType
	uid := e.uid
	e.mu.RUnlock()

	if !access.IsWritable() {
		return hcerr.Wrap(hcerr.StageEntity, hcerr.CodeWriteOnlyOrLocked,
			fmt.Errorf("entity %d (%s): access %q does not permit writes", uid, e.name, access))
	}
	if available == profile.AvailabilityFalse {
		return hcerr.Wrap(hcerr.StageEntity, hcerr.CodeWriteOnlyOrLocked,
			fmt.Errorf("entity %d (%s): unavailable", uid, e.name))
	}

	var coerced any = v
	if hasPT {
		coerced = Coerce(pt, v)
	}

	payload := map[string]any{"uid": uid, "value": coerced}
	raw, err := json.Marshal(payload)
	if err != nil {
		return hcerr.Wrap(hcerr.StageEntity, hcerr.CodeInvalidPayload, err)
	}
	msg := protocol.Message{
		Resource: "/ro/values",
		Action:   protocol.ActionPost,
		Data:     []json.RawMessage{raw},
	}
	resp, err := e.transport.SendSync(ctx, msg, DefaultTimeout)
	if err != nil {
		return err
	}
	if resp.Code != nil {
		return &hcerr.RemoteError{Code: *resp.Code, Resource: msg.Resource}
	}

	e.mu.Lock()
	e.valueRaw = coerced
	e.hasValue = true
	e.valueShadowRaw = coerced
	e.hasShadow = true
	e.mu.Unlock()
	return nil
}

// Update is the parsed shape of an inbound /ro/values entry or description
// change. The session does not build one; callers construct it.
type Update struct {
	Value     any
	HasValue  bool
	Access    profile.Access
	HasAccess bool
	Available profile.Availability
	Min       *float64
	Max       *float64
	Step      *float64
}

// ApplyUpdate absorbs an inbound value/description change. When Value is
// present it is coerced and stored as both the raw and shadow value
// (matching the appliance-initiated path, which carries no failure code to
// distinguish from an acknowledged write).
func (e *Entity) ApplyUpdate(u Update) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if u.HasValue {
		coerced := u.Value
		if e.hasProtocolType {
			coerced = Coerce(e.protocolType, u.Value)
		}
		e.valueRaw = coerced
		e.hasValue = true
		e.valueShadowRaw = coerced
		e.hasShadow = true
	}
	if u.HasAccess {
		e.access = u.Access
	}
	if u.Available != profile.AvailabilityUnknown {
		e.available = u.Available
	}
	if u.Min != nil {
		e.min = u.Min
	}
	if u.Max != nil {
		e.max = u.Max
	}
	if u.Step != nil {
		e.step = u.Step
	}
}
