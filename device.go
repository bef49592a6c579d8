package bpfcap

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// maxDevices bounds the /dev/bpfN probe. The kernel clones devices on
// demand, so an open rarely gets past the first few indices.
const maxDevices = 256

// Device is an exclusively-owned handle to an open bpf device, bound to
// one network interface and fully configured. Create one with Acquire;
// the capture loop owns it afterward and closes it when the loop ends.
type Device struct {
	fd       int
	path     string
	iface    string
	ifindex  int
	buflen   int
	linkType uint32
	close    sync.Once
	closed   atomic.Bool
}

// openFunc opens one candidate device path. Passed into probeDevice so the
// probing logic is testable without a bpf-capable kernel.
type openFunc func(path string) (fd int, err error)

// probeDevice tries /dev/bpf0 through /dev/bpf<max-1> in order and returns
// the first that opens. A permission error aborts immediately with
// ErrPermissionDenied: it is systemic and every later index would fail the
// same way. Any other open failure moves on to the next index. Exhausting
// all indices yields ErrNoDevice wrapping the last error observed.
func probeDevice(open openFunc, max int) (fd int, path string, err error) {
	var lastErr error
	for i := 0; i < max; i++ {
		path = fmt.Sprintf("/dev/bpf%d", i)
		fd, err = open(path)
		if err == nil {
			return fd, path, nil
		}
		if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
			return -1, "", fmt.Errorf("%w: %s: %v", ErrPermissionDenied, path, err)
		}
		lastErr = err
	}
	return -1, "", fmt.Errorf("%w: tried %d devices, last error: %v", ErrNoDevice, max, lastErr)
}

// Read fills p with the next store buffer from the device. With immediate
// mode on and the device opened non-blocking, it returns as soon as any
// data is buffered, or EAGAIN when there is none.
func (d *Device) Read(p []byte) (int, error) {
	return unix.Read(d.fd, p)
}

// BufferSize returns the kernel-reported store buffer length in bytes.
// Reads must be issued with a buffer of exactly this size.
func (d *Device) BufferSize() int {
	return d.buflen
}

// Interface returns the name of the bound network interface.
func (d *Device) Interface() string {
	return d.iface
}

// Index returns the OS index of the bound interface, or 0 if unknown.
func (d *Device) Index() int {
	return d.ifindex
}

// LinkType return the link type, compliant with pcap-linktype(7) and
// http://www.tcpdump.org/linktypes.html.
func (d *Device) LinkType() uint32 {
	return d.linkType
}

// Close releases the device.
// Close is idempotent, and uses sync.Once to ensure it only runs once.
func (d *Device) Close() {
	d.close.Do(func() {
		_ = unix.Close(d.fd)
		d.closed.Store(true)
		log.WithFields(log.Fields{
			"device": d.path,
			"fd":     d.fd,
		}).Debug("closed bpf device")
	})
}
