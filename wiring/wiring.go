// Package wiring constructs runtime entities and operations from a parsed
// DeviceDescription: the by-uid/by-name registries, the setting/status
// classification rules used by higher-level integrations, and the
// keepalive UID inference rule the session engine needs at handshake time.
package wiring

import (
	"context"
	"strings"

	"github.com/hcnet/hcgo/entity"
	"github.com/hcnet/hcgo/hcerr"
	"github.com/hcnet/hcgo/profile"
)

// Class is the home-automation-domain-shaped classification of an entity,
// computed once at wiring time so callers never have to re-derive it.
type Class string

const (
	ClassNumeric       Class = "numeric"
	ClassSelector      Class = "selector"
	ClassSwitch        Class = "switch"
	ClassBinarySensor  Class = "binary_sensor"
	ClassSensor        Class = "sensor"
	ClassCommand       Class = "command"
)

var onLabels = map[string]struct{}{"on": {}, "standby": {}, "true": {}}
var offLabels = map[string]struct{}{"off": {}, "mainsoff": {}, "false": {}}

// detectOnOff scans an enum map for recognizable on/off labels. Ties (more
// than one candidate key for on, or for off) are broken by choosing the
// max key for on and the min key for off.
func detectOnOff(enumMap map[int]string) (onKey, offKey int, ok bool) {
	haveOn, haveOff := false, false
	for k, label := range enumMap {
		l := strings.ToLower(label)
		if _, isOn := onLabels[l]; isOn {
			if !haveOn || k > onKey {
				onKey = k
			}
			haveOn = true
		}
		if _, isOff := offLabels[l]; isOff {
			if !haveOff || k < offKey {
				offKey = k
			}
			haveOff = true
		}
	}
	return onKey, offKey, haveOn && haveOff
}

// ClassifySetting implements §4.6's setting classification rule.
func ClassifySetting(desc profile.EntityDescription) Class {
	if desc.Min != nil || desc.Max != nil || desc.Step != nil {
		return ClassNumeric
	}
	if len(desc.EnumMap) > 2 {
		return ClassSelector
	}
	if desc.ProtocolType == profile.ProtocolTypeBoolean {
		return ClassSwitch
	}
	if len(desc.EnumMap) == 2 {
		if _, _, ok := detectOnOff(desc.EnumMap); ok {
			return ClassSwitch
		}
		return ClassSelector
	}
	return ClassSensor
}

// ClassifyStatus implements §4.6's status classification rule.
func ClassifyStatus(desc profile.EntityDescription) Class {
	if desc.ProtocolType == profile.ProtocolTypeBoolean {
		return ClassBinarySensor
	}
	if len(desc.EnumMap) == 2 {
		if _, _, ok := detectOnOff(desc.EnumMap); ok {
			return ClassBinarySensor
		}
	}
	return ClassSensor
}

// Registry is the constructed set of runtime entities and programs for one
// connected appliance, keyed both by uid and by canonical name.
type Registry struct {
	ByUID  map[uint32]*entity.Entity
	ByName map[string]*entity.Entity

	Programs      map[uint32]*entity.Program
	SelectedUID   *uint32
}

// Build constructs a Registry from a parsed device description, wiring
// every entity to transport.
func Build(desc *profile.DeviceDescription, transport entity.Transport) *Registry {
	r := &Registry{
		ByUID:    make(map[uint32]*entity.Entity),
		ByName:   make(map[string]*entity.Entity),
		Programs: make(map[uint32]*entity.Program),
	}
	for _, ed := range desc.All() {
		e := entity.New(ed, transport)
		r.ByUID[ed.UID] = e
		if ed.Name != "" {
			r.ByName[ed.Name] = e
		}
	}
	for _, ed := range desc.Program {
		base := r.ByUID[ed.UID]
		r.Programs[ed.UID] = entity.NewProgram(base, ed)
	}
	return r
}

// InferKeepaliveUID implements §4.4's keepalive-UID inference rule: the
// first setting, else the first readable-and-not-unavailable status, else
// the first status regardless, else none.
func InferKeepaliveUID(desc *profile.DeviceDescription) (uint32, bool) {
	if len(desc.Setting) > 0 {
		return desc.Setting[0].UID, true
	}
	for _, s := range desc.Status {
		if s.Access.IsReadable() && s.Available != profile.AvailabilityFalse {
			return s.UID, true
		}
	}
	if len(desc.Status) > 0 {
		return desc.Status[0].UID, true
	}
	return 0, false
}

// RunCommand implements the single-shot command operation: a command is
// invoked by writing the literal boolean true.
func (r *Registry) RunCommand(ctx context.Context, uid uint32) error {
	e, ok := r.ByUID[uid]
	if !ok {
		return &hcerr.UnknownEntityError{UID: uid}
	}
	return e.Write(ctx, true)
}

// StartSelectedProgram composes the program registry's selected-program
// wiring: it resolves the currently selected program uid against the
// program map and issues its start operation.
func (r *Registry) StartSelectedProgram(ctx context.Context, overrides []entity.Override, overrideOptions bool) error {
	if r.SelectedUID == nil {
		return &hcerr.InvalidPayloadError{Reason: "no program is currently selected"}
	}
	prog, ok := r.Programs[*r.SelectedUID]
	if !ok {
		return &hcerr.UnknownEntityError{UID: *r.SelectedUID}
	}
	return prog.Start(ctx, overrides, overrideOptions, r.ByUID)
}
