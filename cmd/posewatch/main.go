// Command posewatch listens where the game client would and prints the
// packet rate and player count once per second.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/technospes/StrikeSync-Project/internal/packet"
)

// window accumulates one reporting second
type window struct {
	packets   int
	malformed int
	players   int // from the latest packet
	maxBytes  int
}

func main() {
	addr := flag.String("listen", "127.0.0.1:9001", "UDP address to listen on")
	debug := flag.Bool("debug", false, "Log every packet")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := watch(ctx, *addr); err != nil {
		slog.Error("posewatch failed", "error", err)
		os.Exit(1)
	}
}

func watch(ctx context.Context, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	defer conn.Close()

	slog.Info("posewatch: listening", "addr", conn.LocalAddr().String())

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 64*1024)
	var w window
	last := time.Now()

	for {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := conn.ReadFromUDP(buf)

		switch {
		case err == nil:
			w.packets++
			if n > w.maxBytes {
				w.maxBytes = n
			}
			pkt, perr := packet.Unmarshal(buf[:n])
			if perr != nil {
				w.malformed++
				slog.Debug("posewatch: malformed packet", "error", perr)
				break
			}
			w.players = len(pkt.Players)
			slog.Debug("posewatch: packet", "players", w.players, "bytes", n)
		case ctx.Err() != nil:
			return nil
		case isTimeout(err):
		default:
			return fmt.Errorf("read: %w", err)
		}

		if elapsed := time.Since(last); elapsed >= time.Second {
			slog.Info("posewatch: rate",
				"packets_per_s", fmt.Sprintf("%.1f", float64(w.packets)/elapsed.Seconds()),
				"players", w.players,
				"malformed", w.malformed,
				"max_bytes", w.maxBytes,
			)
			w = window{players: w.players}
			last = time.Now()
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
