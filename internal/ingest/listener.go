package ingest

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sitewatch-data/ppe.report/internal/monitoring"
)

// MessageHandler consumes one parsed frame message.
type MessageHandler interface {
	Accept(msg *FrameMessage) error
}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Handler     MessageHandler
}

// UDPListener receives frame messages for one camera over UDP, one JSON
// datagram per frame, and hands them to the configured handler.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	handler     MessageHandler
	conn        *net.UDPConn

	packets   atomic.Int64
	malformed atomic.Int64
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	rcvBuf := config.RcvBuf
	if rcvBuf == 0 {
		rcvBuf = 1 << 20
	}
	return &UDPListener{
		address:     config.Address,
		rcvBuf:      rcvBuf,
		logInterval: logInterval,
		handler:     config.Handler,
	}
}

// LocalAddr returns the bound address, or nil before Start.
func (l *UDPListener) LocalAddr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Start begins listening for datagrams and blocks until ctx is cancelled.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.conn = conn
	defer conn.Close()

	if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
		monitoring.Logf("Warning: failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
	}

	monitoring.Logf("detection listener started on %s", conn.LocalAddr())

	go l.startStatsLogging(ctx)

	// Frame messages carry tens of persons at most; 64KiB covers the
	// largest UDP payload anyway.
	buffer := make([]byte, 64*1024)

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("detection listener on %s stopping", l.address)
			return ctx.Err()
		default:
			// Set read deadline to allow checking context cancellation
			conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

			n, from, err := conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue // Continue on timeout to check context
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				monitoring.Logf("UDP read error: %v", err)
				continue
			}

			l.packets.Add(1)
			msg, err := ParseFrameMessage(buffer[:n])
			if err != nil {
				l.malformed.Add(1)
				monitoring.Logf("dropping datagram from %v: %v", from, err)
				continue
			}
			if err := l.handler.Accept(msg); err != nil {
				monitoring.Logf("dropping frame %d from %v: %v", msg.FrameIndex, from, err)
			}
		}
	}
}

// startStatsLogging periodically logs packet counters.
func (l *UDPListener) startStatsLogging(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			monitoring.Logf("listener %s: %d packets, %d malformed",
				l.address, l.packets.Load(), l.malformed.Load())
		}
	}
}
