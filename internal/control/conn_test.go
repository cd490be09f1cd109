package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeConn is an in-memory Conn: the test plays the remote peer by pushing
// frames into in and pulling frames out of out.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 32),
		out:    make(chan []byte, 32),
		closed: make(chan struct{}),
	}
}

var errConnClosed = errors.New("connection closed")

func (f *fakeConn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.in:
		return data, nil
	case <-f.closed:
		return nil, errConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) WriteMessage(ctx context.Context, data []byte) error {
	select {
	case f.out <- data:
		return nil
	case <-f.closed:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeConn) Close(string) error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// isClosed reports whether the connection has been torn down.
func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// peerSend injects a frame as if the remote peer had sent it.
func (f *fakeConn) peerSend(t *testing.T, frame Frame) {
	t.Helper()
	data, err := EncodeFrame(frame)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	select {
	case f.in <- data:
	case <-time.After(time.Second):
		t.Fatal("peerSend stalled")
	}
}

// peerRecv waits for the next frame written to the peer and decodes it.
func (f *fakeConn) peerRecv(t *testing.T) Frame {
	t.Helper()
	select {
	case data := <-f.out:
		frame, err := DecodeFrame(data)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("peerRecv timed out")
		return nil
	}
}
