package publish

import (
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP() = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestUDPPublish(t *testing.T) {
	rx := listenLoopback(t)

	u, err := DialUDP(rx.LocalAddr().String())
	if err != nil {
		t.Fatalf("DialUDP() = %v", err)
	}
	defer u.Close()

	payload := []byte(`{"players":[]}`)
	if err := u.Publish(payload); err != nil {
		t.Fatalf("Publish() = %v", err)
	}

	rx.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1024)
	n, _, err := rx.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP() = %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Errorf("received %q", buf[:n])
	}

	stats := u.Stats()
	if stats.Sent != 1 || stats.BytesSent != uint64(len(payload)) {
		t.Errorf("stats = %+v", stats)
	}
}

func TestUDPClose(t *testing.T) {
	rx := listenLoopback(t)

	u, err := DialUDP(rx.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}

	if u.Closed() {
		t.Fatal("Closed() = true before Close")
	}
	if err := u.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if !u.Closed() {
		t.Error("Closed() = false after Close")
	}
	if err := u.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if err := u.Publish([]byte("x")); !errors.Is(err, net.ErrClosed) {
		t.Errorf("Publish() after Close = %v, want net.ErrClosed", err)
	}
}

func TestDialUDPBadAddress(t *testing.T) {
	if _, err := DialUDP("not-an-address"); err == nil {
		t.Fatal("expected error for address without port")
	}
}

type fakePublisher struct {
	payloads [][]byte
	err      error
	closed   bool
}

func (f *fakePublisher) Publish(p []byte) error {
	f.payloads = append(f.payloads, p)
	return f.err
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return f.err
}

func TestFanout(t *testing.T) {
	boom := errors.New("boom")
	a, b := &fakePublisher{}, &fakePublisher{err: boom}
	f := Fanout{a, b}

	err := f.Publish([]byte("p"))
	if !errors.Is(err, boom) {
		t.Errorf("Publish() = %v, want boom", err)
	}
	if len(a.payloads) != 1 || len(b.payloads) != 1 {
		t.Error("every publisher must receive the payload even when one fails")
	}

	if err := f.Close(); !errors.Is(err, boom) {
		t.Errorf("Close() = %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("every publisher must be closed")
	}

	if err := (Fanout{a}).Publish([]byte("q")); err != nil {
		t.Errorf("Publish() without failures = %v", err)
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.Stats().Clients == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Stats().Clients != 1 {
		t.Fatalf("clients = %d, want 1", hub.Stats().Clients)
	}

	if err := hub.Publish([]byte(`{"players":[]}`)); err != nil {
		t.Fatalf("Publish() = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() = %v", err)
	}
	if string(msg) != `{"players":[]}` {
		t.Errorf("viewer received %s", msg)
	}
}

func TestHubPublishWithoutClients(t *testing.T) {
	hub := NewHub()
	if err := hub.Publish([]byte("x")); err != nil {
		t.Errorf("Publish() = %v", err)
	}
	if hub.Stats().Broadcast != 0 {
		t.Error("broadcast counted without viewers")
	}
	hub.Close()
	if err := hub.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}
