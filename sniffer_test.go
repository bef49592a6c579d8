package bpfcap

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// scriptedSource plays back a fixed sequence of read outcomes. Once the
// script runs out it clears the running flag so Run terminates, which also
// checks that the loop stops within one iteration of the flag flipping.
type scriptedSource struct {
	reads   []func(p []byte) (int, error)
	step    int
	buflen  int
	running *atomic.Bool
	closed  int
}

func (s *scriptedSource) Read(p []byte) (int, error) {
	if s.step >= len(s.reads) {
		s.running.Store(false)
		return 0, nil
	}
	fn := s.reads[s.step]
	s.step++
	return fn(p)
}

func (s *scriptedSource) BufferSize() int { return s.buflen }
func (s *scriptedSource) Index() int      { return 3 }
func (s *scriptedSource) Close()          { s.closed++ }

func deliver(data []byte) func(p []byte) (int, error) {
	return func(p []byte) (int, error) {
		copy(p, data)
		return len(data), nil
	}
}

func newRunning() *atomic.Bool {
	running := &atomic.Bool{}
	running.Store(true)
	return running
}

func TestRunDispatchesAndStops(t *testing.T) {
	order, err := getEndianness()
	if err != nil {
		t.Fatal(err)
	}
	payload := bytes.Repeat([]byte{0xAB}, 46)
	running := newRunning()
	src := &scriptedSource{
		reads:   []func(p []byte) (int, error){deliver(makeRecord(order, payload, 46, true))},
		buflen:  4096,
		running: running,
	}

	var calls []sinkCall
	s, err := NewSniffer(src, running, recordingSink(&calls))
	if err != nil {
		t.Fatal(err)
	}
	s.Run()

	if len(calls) != 1 {
		t.Fatalf("sink calls: want 1, got %d", len(calls))
	}
	if !bytes.Equal(calls[0].data, payload) {
		t.Error("dispatched frame does not match the captured payload")
	}
	if src.closed != 1 {
		t.Errorf("device closes: want 1, got %d", src.closed)
	}
	// the script-exhaustion read is the last one; the cleared flag must be
	// observed before any further read
	if src.step != len(src.reads) {
		t.Errorf("reads after shutdown: script advanced to %d of %d", src.step, len(src.reads))
	}
}

func TestRunReturnsImmediatelyWhenStopped(t *testing.T) {
	running := &atomic.Bool{}
	src := &scriptedSource{buflen: 4096, running: running}

	var calls []sinkCall
	s, err := NewSniffer(src, running, recordingSink(&calls))
	if err != nil {
		t.Fatal(err)
	}
	s.Run()

	if src.step != 0 {
		t.Errorf("no read may happen once the flag is false, got %d", src.step)
	}
	if len(calls) != 0 {
		t.Errorf("sink calls: want 0, got %d", len(calls))
	}
	if src.closed != 1 {
		t.Errorf("device closes: want 1, got %d", src.closed)
	}
}

func TestRunToleratesEmptyReads(t *testing.T) {
	order, err := getEndianness()
	if err != nil {
		t.Fatal(err)
	}
	payload := bytes.Repeat([]byte{0x11}, 20)
	running := newRunning()
	src := &scriptedSource{
		reads: []func(p []byte) (int, error){
			func(p []byte) (int, error) { return 0, unix.EAGAIN },
			func(p []byte) (int, error) { return 0, nil },
			func(p []byte) (int, error) { return 0, unix.EINTR },
			func(p []byte) (int, error) { return -1, nil },
			deliver(makeRecord(order, payload, 20, true)),
		},
		buflen:  4096,
		running: running,
	}

	var calls []sinkCall
	s, err := NewSniffer(src, running, recordingSink(&calls))
	if err != nil {
		t.Fatal(err)
	}
	s.Run()

	if len(calls) != 1 {
		t.Fatalf("sink calls: want 1, got %d", len(calls))
	}
	if src.step != len(src.reads) {
		t.Errorf("reads: want %d, got %d", len(src.reads), src.step)
	}
}

func TestRunSurvivesTruncatedRecord(t *testing.T) {
	order, err := getEndianness()
	if err != nil {
		t.Fatal(err)
	}

	// a read whose second record overruns the bytes read, then a clean one
	overrun := make([]byte, 24)
	order.PutUint32(overrun[sizeofTimeval:], 500)
	order.PutUint16(overrun[sizeofTimeval+8:], uint16(sizeofRecordHeader))
	first := append(makeRecord(order, bytes.Repeat([]byte{0x22}, 30), 30, true), overrun...)
	second := makeRecord(order, bytes.Repeat([]byte{0x33}, 12), 12, true)

	running := newRunning()
	src := &scriptedSource{
		reads:   []func(p []byte) (int, error){deliver(first), deliver(second)},
		buflen:  4096,
		running: running,
	}

	var calls []sinkCall
	s, err := NewSniffer(src, running, recordingSink(&calls))
	if err != nil {
		t.Fatal(err)
	}
	s.Run()

	if len(calls) != 2 {
		t.Fatalf("sink calls: want 2, got %d", len(calls))
	}
	if calls[1].ci.CaptureLength != 12 {
		t.Errorf("capture after truncated record: got %+v", calls[1].ci)
	}
}

func TestRunClearsBufferBetweenReads(t *testing.T) {
	order, err := getEndianness()
	if err != nil {
		t.Fatal(err)
	}
	big := makeRecord(order, bytes.Repeat([]byte{0xFF}, 100), 100, true)

	running := newRunning()
	var stale bool
	src := &scriptedSource{buflen: 4096, running: running}
	src.reads = []func(p []byte) (int, error){
		deliver(big),
		func(p []byte) (int, error) {
			for _, b := range p {
				if b != 0 {
					stale = true
					break
				}
			}
			return 0, nil
		},
	}

	var calls []sinkCall
	s, err := NewSniffer(src, running, recordingSink(&calls))
	if err != nil {
		t.Fatal(err)
	}
	s.Run()

	if stale {
		t.Error("buffer still held bytes from the previous read")
	}
}

func TestListenDeliversInOrder(t *testing.T) {
	order, err := getEndianness()
	if err != nil {
		t.Fatal(err)
	}
	payloadA := bytes.Repeat([]byte{0xAA}, 46)
	payloadB := bytes.Repeat([]byte{0xBB}, 10)
	buf := append(makeRecord(order, payloadA, 46, true), makeRecord(order, payloadB, 10, true)...)

	running := newRunning()
	src := &scriptedSource{
		reads:   []func(p []byte) (int, error){deliver(buf)},
		buflen:  4096,
		running: running,
	}

	c, err := Listen(src, running)
	if err != nil {
		t.Fatal(err)
	}

	var frames []Frame
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-c:
			if !ok {
				if len(frames) != 2 {
					t.Fatalf("frames: want 2, got %d", len(frames))
				}
				if !bytes.Equal(frames[0].B, payloadA) || !bytes.Equal(frames[1].B, payloadB) {
					t.Error("frames out of order or corrupted")
				}
				if frames[0].Info.CaptureLength != 46 || frames[1].Info.CaptureLength != 10 {
					t.Errorf("frame info: got %+v and %+v", frames[0].Info, frames[1].Info)
				}
				return
			}
			frames = append(frames, f)
		case <-timeout:
			t.Fatal("listen channel did not close")
		}
	}
}
