package session

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hcnet/hcgo/config"
	"github.com/hcnet/hcgo/crypto/recordlayer"
	"github.com/hcnet/hcgo/internal/base64url"
	"github.com/hcnet/hcgo/protocol"
)

var testPSK = []byte("01234567890123456789012345678901")[:32]
var testIV = []byte("0123456789012345")[:16]

// fakeAppliance speaks the AES-framed handshake sequence this package's
// Session expects, just enough to drive it to StateConnected and to serve
// one post-handshake /ro/values read.
func fakeAppliance(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	keys, err := recordlayer.DeriveKeys(testPSK, testIV)
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}

	handler := func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		framer := recordlayer.NewFramer(keys, recordlayer.RoleServer)

		send := func(msg protocol.Message) {
			raw, err := msg.Marshal()
			if err != nil {
				t.Errorf("marshal outbound: %v", err)
				return
			}
			frame, err := framer.Encrypt(raw)
			if err != nil {
				t.Errorf("encrypt outbound: %v", err)
				return
			}
			if err := c.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}

		sid := int64(555)
		edMsgID := int64(1000)
		send(protocol.Message{
			Resource: "/ei/initialValues",
			Action:   protocol.ActionPost,
			SID:      &sid,
			Data:     []json.RawMessage{mustJSON(t, map[string]any{"edMsgID": edMsgID})},
		})

		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				return
			}
			cleartext, err := framer.Decrypt(raw)
			if err != nil {
				continue
			}
			msg, err := protocol.Parse(cleartext)
			if err != nil {
				continue
			}
			switch msg.Resource {
			case "/ei/initialValues":
				// the client's RESPONSE to our initial values; no reply needed.
			case "/ci/services":
				data := []json.RawMessage{
					mustJSON(t, map[string]any{"service": "ci", "version": 1}),
					mustJSON(t, map[string]any{"service": "ei", "version": 2}),
				}
				send(protocol.Message{Resource: msg.Resource, Action: protocol.ActionResponse, SID: msg.SID, MsgID: msg.MsgID, Data: data})
			case "/ci/authentication":
				send(protocol.Message{Resource: msg.Resource, Action: protocol.ActionResponse, SID: msg.SID, MsgID: msg.MsgID})
			case "/ci/info":
				send(protocol.Message{Resource: msg.Resource, Action: protocol.ActionResponse, SID: msg.SID, MsgID: msg.MsgID})
			case "/ro/allDescriptionChanges":
				send(protocol.Message{Resource: msg.Resource, Action: protocol.ActionResponse, SID: msg.SID, MsgID: msg.MsgID})
			case "/ro/allMandatoryValues":
				data := []json.RawMessage{mustJSON(t, map[string]any{"uid": 5001, "value": 1})}
				send(protocol.Message{Resource: msg.Resource, Action: protocol.ActionResponse, SID: msg.SID, MsgID: msg.MsgID, Data: data})
			case "/ro/values":
				if msg.Action == protocol.ActionGet {
					data := []json.RawMessage{mustJSON(t, map[string]any{"uid": 5001, "value": 42})}
					send(protocol.Message{Resource: msg.Resource, Action: protocol.ActionResponse, SID: msg.SID, MsgID: msg.MsgID, Data: data})
				}
			}
		}
	}
	return httptest.NewServer(http.HandlerFunc(handler))
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func testConfig() *config.Config {
	return &config.Config{
		Host:                   "appliance.invalid",
		PSKBase64:              base64url.Encode(testPSK),
		IVBase64:               base64url.Encode(testIV),
		Mode:                   config.ModeAES,
		AppName:                "hcgo-test",
		AppID:                  "hcgo-test-id",
		ConnectTimeout:         5 * time.Second,
		KeepaliveEnabled:       false,
		KeepaliveIdleTimeout:   60 * time.Second,
		KeepaliveProbeInterval: 10 * time.Second,
	}
}

func TestConnectCompletesHandshake(t *testing.T) {
	srv := fakeAppliance(t)
	defer srv.Close()

	cfg := testConfig()
	s := New(cfg)
	s.dialURLOverride = "ws" + srv.URL[len("http"):] + "/homeconnect"
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if s.State() != StateConnected {
		t.Fatalf("State() = %v, want connected", s.State())
	}

	s.mu.Lock()
	uid := s.keepaliveUID
	s.mu.Unlock()
	if uid == nil || *uid != 5001 {
		t.Fatalf("keepaliveUID = %v, want 5001 (learned from allMandatoryValues)", uid)
	}
}

func TestSendSyncAfterConnect(t *testing.T) {
	srv := fakeAppliance(t)
	defer srv.Close()

	cfg := testConfig()
	s := New(cfg)
	s.dialURLOverride = "ws" + srv.URL[len("http"):] + "/homeconnect"
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	data, _ := marshalData(map[string]any{"uid": 5001})
	resp, err := s.SendSync(ctx, protocol.Message{Resource: "/ro/values", Action: protocol.ActionGet, Data: data}, 2*time.Second)
	if err != nil {
		t.Fatalf("SendSync: %v", err)
	}
	var got struct {
		UID   int `json:"uid"`
		Value int `json:"value"`
	}
	if err := json.Unmarshal(resp.Data[0], &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.Value != 42 {
		t.Fatalf("value = %d, want 42", got.Value)
	}
}

func TestWithLoggerOption(t *testing.T) {
	srv := fakeAppliance(t)
	defer srv.Close()

	var buf bytes.Buffer
	cfg := testConfig()
	s := New(cfg, WithLogger(log.New(&buf, "", 0)))
	s.dialURLOverride = "ws" + srv.URL[len("http"):] + "/homeconnect"
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if s.logger == nil {
		t.Fatal("logger must not be nil after WithLogger")
	}

	// A malformed frame fed straight through the installed framer must be
	// rejected without panicking.
	if _, err := s.framer.Decrypt([]byte("not a valid frame")); err == nil {
		t.Fatal("expected decrypt error for malformed frame")
	}
}

func TestSendSyncTimesOutWithoutResponse(t *testing.T) {
	srv := fakeAppliance(t)
	defer srv.Close()

	cfg := testConfig()
	s := New(cfg)
	s.dialURLOverride = "ws" + srv.URL[len("http"):] + "/homeconnect"
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_, err := s.SendSync(ctx, protocol.Message{Resource: "/unhandled/resource", Action: protocol.ActionGet}, 200*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error for a resource the fake appliance never answers")
	}
}
