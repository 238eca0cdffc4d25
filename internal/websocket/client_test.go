package websocket

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type written struct {
	kind int
	data string
}

type fakeSocket struct {
	mu     sync.Mutex
	writes []written
	closed bool
	reads  chan error
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{reads: make(chan error, 1)}
}

func (f *fakeSocket) SetReadLimit(int64)                {}
func (f *fakeSocket) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeSocket) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeSocket) SetPongHandler(func(string) error) {}
func (f *fakeSocket) ReadMessage() (int, []byte, error) { return 0, nil, <-f.reads }

func (f *fakeSocket) WriteMessage(kind int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, written{kind: kind, data: string(data)})
	return nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSocket) snapshot() ([]written, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]written(nil), f.writes...), f.closed
}

func TestWritePumpWritesFramesThenCloses(t *testing.T) {
	sock := newFakeSocket()
	c := &Client{Hub: startHub(t), Conn: sock, ThreadID: "t1", Send: make(chan []byte, 2)}
	c.Send <- []byte(`{"type":"progress"}`)
	c.Send <- []byte(`{"type":"answer"}`)
	close(c.Send)

	c.writePump()

	writes, closed := sock.snapshot()
	require.Len(t, writes, 3)
	assert.Equal(t, written{websocket.TextMessage, `{"type":"progress"}`}, writes[0])
	assert.Equal(t, written{websocket.TextMessage, `{"type":"answer"}`}, writes[1])
	assert.Equal(t, websocket.CloseMessage, writes[2].kind)
	assert.True(t, closed)
}

func TestReadPumpUnregistersWhenPeerLeaves(t *testing.T) {
	hub := startHub(t)
	sock := newFakeSocket()
	c := &Client{Hub: hub, Conn: sock, ThreadID: "t1", Send: make(chan []byte, 1)}
	hub.register <- c
	require.Eventually(t, func() bool { return hub.Clients("t1") == 1 }, time.Second, 5*time.Millisecond)

	sock.reads <- errors.New("peer gone")
	c.readPump()

	require.Eventually(t, func() bool { return hub.Clients("t1") == 0 }, time.Second, 5*time.Millisecond)
	_, closed := sock.snapshot()
	assert.True(t, closed)
}
