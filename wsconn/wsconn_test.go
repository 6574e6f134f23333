package wsconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDialReadWrite(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade: %v", err)
			return
		}
		defer c.Close()
		mt, b, err := c.ReadMessage()
		if err != nil {
			return
		}
		_ = c.WriteMessage(mt, b)
	}))
	defer srv.Close()

	url := "ws" + srv.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := Dial(ctx, url, DialOptions{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(ctx, BinaryMessage, []byte("ping")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	mt, b, err := conn.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if mt != BinaryMessage || string(b) != "ping" {
		t.Fatalf("got (%d, %q), want (%d, %q)", mt, b, BinaryMessage, "ping")
	}
}

func TestReadMessageCanceledContext(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Never write anything; the client should time out waiting.
		time.Sleep(2 * time.Second)
		c.Close()
	}))
	defer srv.Close()

	url := "ws" + srv.URL[len("http"):]
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()
	conn, _, err := Dial(dialCtx, url, DialOptions{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	readCtx, readCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer readCancel()
	if _, _, err := conn.ReadMessage(readCtx); err == nil {
		t.Fatal("expected ReadMessage to fail on context deadline")
	}
}
