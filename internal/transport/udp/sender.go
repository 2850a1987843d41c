package udp

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	applog "spectro/internal/log"
)

// UDPSender writes column packets to one peer over a connected socket.
type UDPSender struct {
	target string

	mu   sync.Mutex // guards conn against Close during Write
	conn *net.UDPConn

	packets atomic.Uint64
	bytes   atomic.Uint64
	failed  atomic.Uint64
}

// NewUDPSender dials targetAddress ("host:port").
func NewUDPSender(targetAddress string) (*UDPSender, error) {
	addr, err := net.ResolveUDPAddr("udp", targetAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve UDP target %q: %w", targetAddress, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial UDP target %q: %w", targetAddress, err)
	}

	applog.Infof("UDP Sender: streaming columns to %s", conn.RemoteAddr())
	return &UDPSender{target: conn.RemoteAddr().String(), conn: conn}, nil
}

// Send writes data as a single datagram. It returns net.ErrClosed after
// Close.
func (s *UDPSender) Send(data []byte) error {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return fmt.Errorf("UDP sender: %w", net.ErrClosed)
	}
	n, err := s.conn.Write(data)
	s.mu.Unlock()

	if err != nil {
		// Warn on the first failure only; an absent listener refuses every packet.
		if s.failed.Add(1) == 1 {
			applog.Warnf("UDP Sender: send to %s failed: %v", s.target, err)
		}
		return fmt.Errorf("send UDP packet: %w", err)
	}
	s.packets.Add(1)
	s.bytes.Add(uint64(n))
	return nil
}

// Stats returns the packets and bytes delivered to the socket and the
// number of failed writes.
func (s *UDPSender) Stats() (packets, bytes, failed uint64) {
	return s.packets.Load(), s.bytes.Load(), s.failed.Load()
}

// Close closes the socket. Later calls are no-ops.
func (s *UDPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}

	packets, bytes, failed := s.Stats()
	applog.Infof("UDP Sender: closing %s after %d packets (%d bytes, %d failed)", s.target, packets, bytes, failed)
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("close UDP connection: %w", err)
	}
	return nil
}

var _ Sender = (*UDPSender)(nil)
