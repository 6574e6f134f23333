package entity

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hcnet/hcgo/profile"
	"github.com/hcnet/hcgo/protocol"
)

// Scenario 3: select with empty options.
func TestProgramSelectEmptyOptions(t *testing.T) {
	ft := &fakeTransport{resp: protocol.Message{Action: protocol.ActionResponse}}
	base := New(profile.EntityDescription{UID: 501}, ft)
	prog := NewProgram(base, profile.EntityDescription{UID: 501, OptionUIDs: nil})

	if err := prog.Select(context.Background()); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if ft.lastMsg.Resource != "/ro/selectedProgram" || ft.lastMsg.Action != protocol.ActionPost {
		t.Fatalf("unexpected message: %+v", ft.lastMsg)
	}
	var got map[string]any
	if err := json.Unmarshal(ft.lastMsg.Data[0], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["program"] != float64(501) {
		t.Fatalf("program = %v, want 501", got["program"])
	}
	opts, ok := got["options"].([]any)
	if !ok || len(opts) != 0 {
		t.Fatalf("options = %v, want empty array", got["options"])
	}
}

// Scenario 4: start with shadow-fill.
func TestProgramStartShadowFill(t *testing.T) {
	ft := &fakeTransport{resp: protocol.Message{Action: protocol.ActionResponse}}
	progEntity := New(profile.EntityDescription{UID: 502}, ft)
	prog := NewProgram(progEntity, profile.EntityDescription{UID: 502, OptionUIDs: []uint32{401, 402}})

	sibTransport := &fakeTransport{resp: protocol.Message{Action: protocol.ActionResponse}}
	opt401 := New(profile.EntityDescription{UID: 401, ProtocolType: profile.ProtocolTypeInteger, HasProtocolType: true, Access: profile.AccessReadWrite}, sibTransport)
	opt402 := New(profile.EntityDescription{UID: 402, ProtocolType: profile.ProtocolTypeInteger, HasProtocolType: true, Access: profile.AccessReadWrite}, sibTransport)
	if err := opt401.Write(context.Background(), 10); err != nil {
		t.Fatalf("seed opt401: %v", err)
	}
	if err := opt402.Write(context.Background(), 20); err != nil {
		t.Fatalf("seed opt402: %v", err)
	}

	entitiesByUID := map[uint32]*Entity{401: opt401, 402: opt402}
	overrides := []Override{{UID: 401, Value: 99}}

	if err := prog.Start(context.Background(), overrides, false, entitiesByUID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(ft.lastMsg.Data[0], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["program"] != float64(502) {
		t.Fatalf("program = %v, want 502", got["program"])
	}
	wantOpts := `[{"uid":401,"value":99},{"uid":402,"value":20}]`
	gotOpts, err := json.Marshal(got["options"])
	if err != nil {
		t.Fatalf("marshal options: %v", err)
	}
	var wantNorm, gotNorm any
	json.Unmarshal([]byte(wantOpts), &wantNorm)
	json.Unmarshal(gotOpts, &gotNorm)
	wb, _ := json.Marshal(wantNorm)
	gb, _ := json.Marshal(gotNorm)
	if string(wb) != string(gb) {
		t.Fatalf("options = %s, want %s", gb, wb)
	}
}
