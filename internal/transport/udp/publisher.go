// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	applog "spectro/internal/log"
	"spectro/internal/spectrogram"
)

// MaxPacketSize is the largest UDP payload over IPv4.
const MaxPacketSize = 65507

// HeaderSize is the fixed part of a packet before the magnitudes.
const HeaderSize = 4 + 8 + 4 + 4

// ErrPacketTooLarge is returned for columns whose packet would not fit in
// one datagram.
var ErrPacketTooLarge = errors.New("udp: column does not fit in one packet")

// Sender writes one datagram per call.
type Sender interface {
	Send(data []byte) error
	Close() error
}

// Publisher packs spectrogram columns into a binary format and sends them
// over UDP. Columns arriving faster than the send interval are dropped.
type Publisher struct {
	sender   Sender
	interval time.Duration
	log      applog.Logger

	mu          sync.Mutex // protects everything below
	lastSend    time.Time
	sequenceNum uint32

	// Reused between packets.
	f32Buffer    []float32
	packetBuffer *bytes.Buffer
}

// NewPublisher creates a Publisher. A non-positive interval sends every
// column.
func NewPublisher(interval time.Duration, sender Sender) (*Publisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}
	if interval < 0 {
		interval = 0
	}
	p := &Publisher{
		sender:       sender,
		interval:     interval,
		log:          applog.WithPrefix("UDPPublisher"),
		packetBuffer: new(bytes.Buffer),
	}
	p.log.Infof("initializing (interval: %s)", interval)
	return p, nil
}

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | Monotonically increasing|
| Column Time       | int64          | 8            | Audio time, nanoseconds |
| Bin Width         | float32        | 4            | Hz between bins         |
| Magnitude Count   | uint32         | 4            | Number of floats (N)    |
| Magnitudes        | []float32      | N * 4        | Column magnitudes       |
+-----------------------------------------------------------------------------+
*/

// Packet is a decoded column packet.
type Packet struct {
	Sequence   uint32
	Time       time.Duration
	BinWidth   float32
	Magnitudes []float32
}

// Send packs col and sends it, unless the previous packet went out less
// than one interval ago.
func (p *Publisher) Send(col spectrogram.Column) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.interval > 0 && !p.lastSend.IsZero() && now.Sub(p.lastSend) < p.interval {
		return nil
	}

	packet, err := p.pack(col)
	if err != nil {
		return err
	}
	if err := p.sender.Send(packet); err != nil {
		return err
	}
	p.lastSend = now
	p.log.Debugf("sent packet %d (%d bytes)", p.sequenceNum, len(packet))
	return nil
}

// pack encodes col into the reusable buffer and returns its bytes.
func (p *Publisher) pack(col spectrogram.Column) ([]byte, error) {
	n := len(col.Magnitudes)
	if HeaderSize+4*n > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bins", ErrPacketTooLarge, n)
	}

	if cap(p.f32Buffer) < n {
		p.f32Buffer = make([]float32, n)
	}
	p.f32Buffer = p.f32Buffer[:n]
	for i, v := range col.Magnitudes {
		p.f32Buffer[i] = float32(v)
	}

	p.sequenceNum++
	p.packetBuffer.Reset()

	err := binary.Write(p.packetBuffer, binary.BigEndian, p.sequenceNum)
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, int64(math.Round(col.Time*float64(time.Second))))
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, float32(col.BinWidth))
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, uint32(n))
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, p.f32Buffer)
	}
	if err != nil {
		return nil, fmt.Errorf("UDPPublisher: packing column: %w", err)
	}
	return p.packetBuffer.Bytes(), nil
}

// Decode parses a packet produced by Publisher.
func Decode(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, fmt.Errorf("udp: short packet (%d bytes)", len(data))
	}
	var pkt Packet
	pkt.Sequence = binary.BigEndian.Uint32(data[0:4])
	pkt.Time = time.Duration(int64(binary.BigEndian.Uint64(data[4:12])))
	pkt.BinWidth = math.Float32frombits(binary.BigEndian.Uint32(data[12:16]))
	n := int(binary.BigEndian.Uint32(data[16:20]))
	if len(data) != HeaderSize+4*n {
		return Packet{}, fmt.Errorf("udp: packet holds %d bytes, header announces %d magnitudes", len(data), n)
	}
	pkt.Magnitudes = make([]float32, n)
	for i := range pkt.Magnitudes {
		off := HeaderSize + 4*i
		pkt.Magnitudes[i] = math.Float32frombits(binary.BigEndian.Uint32(data[off : off+4]))
	}
	return pkt, nil
}

// Close closes the underlying sender.
func (p *Publisher) Close() error {
	p.log.Debugf("close called")
	return p.sender.Close()
}
