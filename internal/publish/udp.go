package publish

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

// UDPStats is a snapshot of datagram counters.
type UDPStats struct {
	Sent       uint64 `json:"sent"`
	SendErrors uint64 `json:"send_errors"`
	BytesSent  uint64 `json:"bytes_sent"`
}

// UDP sends each packet as one datagram to a fixed destination.
// Delivery and ordering are not guaranteed; a failed send is counted and
// returned, never retried.
type UDP struct {
	conn *net.UDPConn
	addr string

	sent       uint64
	sendErrors uint64
	bytesSent  uint64

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// DialUDP resolves addr (host:port) and opens a connected datagram socket.
func DialUDP(addr string) (*UDP, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("publish: resolve %s: %w", addr, err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("publish: dial %s: %w", addr, err)
	}

	slog.Info("publish: udp destination ready", "addr", raddr.String(), "local", conn.LocalAddr().String())
	return &UDP{conn: conn, addr: raddr.String()}, nil
}

// Publish writes payload as a single datagram.
func (u *UDP) Publish(payload []byte) error {
	if u.closed.Load() {
		return net.ErrClosed
	}

	n, err := u.conn.Write(payload)
	if err != nil {
		// ICMP port unreachable surfaces here when the game is not listening
		atomic.AddUint64(&u.sendErrors, 1)
		return fmt.Errorf("publish: udp send: %w", err)
	}

	atomic.AddUint64(&u.sent, 1)
	atomic.AddUint64(&u.bytesSent, uint64(n))
	return nil
}

// Close releases the socket. Idempotent.
func (u *UDP) Close() error {
	u.closeOnce.Do(func() {
		u.closed.Store(true)
		u.closeErr = u.conn.Close()
		slog.Info("publish: udp socket closed",
			"addr", u.addr,
			"sent", atomic.LoadUint64(&u.sent),
			"send_errors", atomic.LoadUint64(&u.sendErrors),
		)
	})
	return u.closeErr
}

// Closed reports whether the socket has been released.
func (u *UDP) Closed() bool {
	return u.closed.Load()
}

// Addr returns the destination address.
func (u *UDP) Addr() string {
	return u.addr
}

// Stats returns datagram counters.
func (u *UDP) Stats() UDPStats {
	return UDPStats{
		Sent:       atomic.LoadUint64(&u.sent),
		SendErrors: atomic.LoadUint64(&u.sendErrors),
		BytesSent:  atomic.LoadUint64(&u.bytesSent),
	}
}
