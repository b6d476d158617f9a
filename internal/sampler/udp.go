package sampler

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// UDPConfig contains configuration options for a UDPSource.
type UDPConfig struct {
	// Address is the listen address, for example ":9911".
	Address string

	// RcvBuf is the kernel receive buffer size in bytes. Zero keeps the
	// system default.
	RcvBuf int

	// Encoding is how datagram payloads carry readings.
	Encoding Encoding
}

// UDPSource receives photocell readings as UDP datagrams, either packed
// little-endian pairs or newline-delimited text, and fans them out to
// subscribers.
type UDPSource struct {
	fanout
	cfg UDPConfig

	connMu sync.Mutex
	conn   *net.UDPConn
}

// NewUDPSource creates a UDP sample source with the provided configuration.
func NewUDPSource(cfg UDPConfig) *UDPSource {
	return &UDPSource{fanout: newFanout(), cfg: cfg}
}

// Monitor listens on the configured address and publishes the readings
// carried by each datagram until ctx is cancelled.
func (u *UDPSource) Monitor(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", u.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	u.connMu.Lock()
	u.conn = conn
	u.connMu.Unlock()
	defer conn.Close()

	if u.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(u.cfg.RcvBuf); err != nil {
			log.Printf("Warning: Failed to set UDP receive buffer size to %d: %v", u.cfg.RcvBuf, err)
		}
	}

	log.Printf("Sample listener started on %s (%s encoding)", conn.LocalAddr(), u.cfg.Encoding)

	buffer := make([]byte, 2048)

	for {
		select {
		case <-ctx.Done():
			log.Print("Sample listener stopping due to context cancellation")
			return ctx.Err()
		default:
			// Set read deadline to allow checking context cancellation
			conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

			n, _, err := conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("UDP read error: %v", err)
				continue
			}

			for _, v := range parseDatagram(buffer[:n], u.cfg.Encoding) {
				u.publish(v)
			}
		}
	}
}

// LocalAddr returns the bound address once Monitor is listening, or nil
// before that. Tests bind port 0 and read the assigned port from here.
func (u *UDPSource) LocalAddr() net.Addr {
	u.connMu.Lock()
	defer u.connMu.Unlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// Close closes the socket and all subscriber channels.
func (u *UDPSource) Close() error {
	u.closeAll()
	u.connMu.Lock()
	defer u.connMu.Unlock()
	if u.conn != nil {
		return u.conn.Close()
	}
	return nil
}
