//go:build darwin || freebsd

package bpfcap

import (
	"fmt"
	"net"
	"unsafe"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const enable = 1

// Acquire opens the first available bpf device, binds it to iface, and
// configures it for immediate-mode capture. Every failure is returned to
// the caller; a device that cannot be fully configured is closed rather
// than handed back half-ready.
func Acquire(iface string) (*Device, error) {
	logger := log.WithField("iface", iface)
	logger.Debug("started")

	fd, path, err := probeDevice(func(path string) (int, error) {
		return unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0000)
	}, maxDevices)
	if err != nil {
		return nil, err
	}
	logger = logger.WithFields(log.Fields{"device": path, "fd": fd})
	logger.Debug("opened bpf device")

	d := &Device{fd: fd, path: path, iface: iface}

	// bind to the interface before any other option; the remaining ioctls
	// are meaningless on an unbound device
	if err := setBpfInterface(fd, iface); err != nil {
		d.Close()
		return nil, fmt.Errorf("%w: interface %s: %v", ErrBindInterface, iface, err)
	}
	if in, err := net.InterfaceByName(iface); err == nil {
		d.ifindex = in.Index
	}
	if err := setBpfHeadercmpl(fd, enable); err != nil {
		d.Close()
		return nil, fmt.Errorf("%w: header complete option: %v", ErrConfigure, err)
	}
	if err := setBpfImmediate(fd, enable); err != nil {
		d.Close()
		return nil, fmt.Errorf("%w: immediate mode: %v", ErrConfigure, err)
	}
	d.buflen, err = bpfBuflen(fd)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("%w: buffer length query: %v", ErrConfigure, err)
	}
	d.linkType, err = bpfLinkType(fd)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("%w: link type query: %v", ErrConfigure, err)
	}

	logger.WithFields(log.Fields{
		"buflen":   d.buflen,
		"linktype": d.linkType,
	}).Info("bpf device ready")
	return d, nil
}

// because they deprecated all of the below from "syscall" and redirected to
// "golang.org/x/net/bpf" but did not create a replacement. Sigh.

type ivalue struct {
	name  [unix.IFNAMSIZ]byte
	value int16
}

func setBpfInterface(fd int, name string) error {
	var iv ivalue
	copy(iv.name[:], []byte(name))
	return ioctlPtr(fd, unix.BIOCSETIF, unsafe.Pointer(&iv))
}

func setBpfHeadercmpl(fd, m int) error {
	return unix.IoctlSetPointerInt(fd, unix.BIOCSHDRCMPLT, m)
}

func setBpfImmediate(fd, m int) error {
	return unix.IoctlSetPointerInt(fd, unix.BIOCIMMEDIATE, m)
}

func bpfBuflen(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.BIOCGBLEN)
}

func bpfLinkType(fd int) (uint32, error) {
	linkType, err := unix.IoctlGetInt(fd, unix.BIOCGDLT)
	if err != nil {
		return 0, fmt.Errorf("failed to get link type: %v", err)
	}
	return uint32(linkType), nil
}

func ioctlPtr(fd, arg int, valPtr unsafe.Pointer) error {
	//nolint:staticcheck // unix.SYS_IOCTL is deprecated, but golang does not provide a better alternative
	// as of this writing for passing pointers
	_, _, errno := unix.RawSyscall(unix.SYS_IOCTL, uintptr(fd), uintptr(arg), uintptr(valPtr))
	if errno != 0 {
		return fmt.Errorf("error: %d", errno)
	}
	return nil
}
