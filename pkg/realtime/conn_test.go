package realtime

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/txn2/karaoke-live/pkg/registry"
)

func TestConnSend_WriteDeadlineOnStalledPeer(t *testing.T) {
	result := make(chan error, 1)
	srv := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
		c := newConn("stalled", ws, 50*time.Millisecond)
		payload := strings.Repeat("x", 1<<20)
		var err error
		for i := 0; i < 256 && err == nil; i++ {
			err = c.Send(registry.Event{Type: "fill", Payload: payload})
		}
		result <- err
	}))
	defer srv.Close()

	// The client never reads, so the server's socket buffers fill up.
	client, err := websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), "", srv.URL)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	select {
	case err := <-result:
		assert.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Send blocked on a peer that never reads")
	}
}

func TestNewGateway_DefaultWriteTimeout(t *testing.T) {
	g := NewGateway(Config{})
	assert.Equal(t, DefaultWriteTimeout, g.wtimeout)
}
