package entity

import (
	"context"
	"encoding/json"

	"github.com/hcnet/hcgo/hcerr"
	"github.com/hcnet/hcgo/profile"
	"github.com/hcnet/hcgo/protocol"
)

// Override is one caller-supplied option override for Program.Start. A
// slice (not a map) is used so the caller controls iteration order, which
// the protocol's option assembly depends on.
type Override struct {
	UID   uint32
	Value any // may be nil, serialised as JSON null
}

// Program is the runtime handle for a program entity: select/start
// operate on the underlying Entity's uid and option list.
type Program struct {
	*Entity
	optionUIDs []uint32
	execution  profile.Execution
}

// NewProgram wraps an Entity with its program-specific option list and
// execution mode.
func NewProgram(e *Entity, desc profile.EntityDescription) *Program {
	return &Program{Entity: e, optionUIDs: desc.OptionUIDs, execution: desc.Execution}
}

// Select POSTs /ro/selectedProgram selecting this program with no options.
func (p *Program) Select(ctx context.Context) error {
	payload := map[string]any{"program": p.uid, "options": []any{}}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := protocol.Message{
		Resource: "/ro/selectedProgram",
		Action:   protocol.ActionPost,
		Data:     []json.RawMessage{raw},
	}
	resp, err := p.transport.SendSync(ctx, msg, DefaultTimeout)
	if err != nil {
		return err
	}
	return remoteErrorIfCoded(resp, msg.Resource)
}

// Start POSTs /ro/activeProgram, assembling the option list as:
// 1. One entry per Override, in the given slice order.
// 2. When overrideOptions is false, one entry per option uid NOT already
//    covered by an override, in option_uids order, using the sibling
//    entity's shadow value — but only when that sibling is ReadWrite and
//    has a non-nil shadow value.
func (p *Program) Start(ctx context.Context, overrides []Override, overrideOptions bool, entitiesByUID map[uint32]*Entity) error {
	overridden := make(map[uint32]struct{}, len(overrides))
	options := make([]map[string]any, 0, len(overrides)+len(p.optionUIDs))
	for _, o := range overrides {
		overridden[o.UID] = struct{}{}
		options = append(options, map[string]any{"uid": o.UID, "value": o.Value})
	}
	if !overrideOptions {
		for _, uid := range p.optionUIDs {
			if _, ok := overridden[uid]; ok {
				continue
			}
			sib, ok := entitiesByUID[uid]
			if !ok {
				continue
			}
			if sib.Access() != profile.AccessReadWrite {
				continue
			}
			shadow, has := sib.ShadowValue()
			if !has || shadow == nil {
				continue
			}
			options = append(options, map[string]any{"uid": uid, "value": shadow})
		}
	}

	payload := map[string]any{"program": p.uid, "options": options}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := protocol.Message{
		Resource: "/ro/activeProgram",
		Action:   protocol.ActionPost,
		Data:     []json.RawMessage{raw},
	}
	resp, err := p.transport.SendSync(ctx, msg, DefaultTimeout)
	if err != nil {
		return err
	}
	return remoteErrorIfCoded(resp, msg.Resource)
}

func remoteErrorIfCoded(resp protocol.Message, resource string) error {
	if resp.Code != nil {
		return &hcerr.RemoteError{Code: *resp.Code, Resource: resource}
	}
	return nil
}
