package bpfcap

import (
	"encoding/binary"
	"errors"
	"sync/atomic"

	"github.com/gopacket/gopacket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// FrameSink consumes one captured frame per call. data is a window into the
// sniffer's read buffer and is only valid until the sink returns; a sink
// that needs the bytes longer must copy, and must never mutate them.
type FrameSink func(data []byte, ci gopacket.CaptureInfo)

// frameSource is the slice of Device the capture loop needs.
type frameSource interface {
	Read(p []byte) (int, error)
	BufferSize() int
	Index() int
	Close()
}

// Sniffer runs the capture loop over one configured device. It owns the
// device and the read buffer; nothing else touches either while Run is
// executing. The running flag is the only shared state, written by the
// interrupt watcher and read here once per iteration.
type Sniffer struct {
	dev     frameSource
	buf     []byte
	order   binary.ByteOrder
	running *atomic.Bool
	sink    FrameSink
}

// Frame a single captured frame delivered over a Listen channel
type Frame struct {
	B    []byte
	Info gopacket.CaptureInfo
}

// NewSniffer prepares a capture loop over dev, dispatching each frame to
// sink until running goes false. The read buffer is sized to the device's
// reported store buffer length and reused for every read.
func NewSniffer(dev frameSource, running *atomic.Bool, sink FrameSink) (*Sniffer, error) {
	// we need to know our endianness; the kernel writes record headers in
	// native byte order
	order, err := getEndianness()
	if err != nil {
		return nil, err
	}
	return &Sniffer{
		dev:     dev,
		buf:     make([]byte, dev.BufferSize()),
		order:   order,
		running: running,
		sink:    sink,
	}, nil
}

// Run reads store buffers from the device and walks out their packed
// records until the running flag goes false, then closes the device. Empty
// reads are the normal idle state of an immediate-mode non-blocking device
// and retry silently, so shutdown latency is bounded by one iteration.
func (s *Sniffer) Run() {
	defer s.dev.Close()
	for s.running.Load() {
		// stale bytes from a longer previous read must not survive into
		// this one
		clear(s.buf)

		n, err := s.dev.Read(s.buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			log.WithError(err).Debug("read failed, retrying")
			continue
		}
		if n <= 0 {
			continue
		}
		cursor, err := walkRecords(s.buf[:n], s.order, s.dev.Index(), s.sink)
		if err != nil {
			log.WithFields(log.Fields{
				"read":   n,
				"cursor": cursor,
			}).WithError(err).Warn("abandoning remainder of capture buffer")
		}
	}
}

// Listen runs a capture loop in a goroutine and delivers each frame over
// the returned channel, which closes when the loop ends. Frame payloads are
// copied out of the read buffer, so they stay valid after delivery.
func Listen(dev frameSource, running *atomic.Bool) (<-chan Frame, error) {
	c := make(chan Frame, 50)
	s, err := NewSniffer(dev, running, func(data []byte, ci gopacket.CaptureInfo) {
		b := make([]byte, len(data))
		copy(b, data)
		c <- Frame{B: b, Info: ci}
	})
	if err != nil {
		return nil, err
	}
	go func() {
		s.Run()
		close(c)
	}()
	return c, nil
}
