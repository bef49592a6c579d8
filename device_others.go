//go:build !darwin && !freebsd

package bpfcap

import "fmt"

// Acquire is only implemented where the kernel exposes /dev/bpf devices.
func Acquire(iface string) (*Device, error) {
	return nil, fmt.Errorf("%w: bpf devices are only available on darwin and freebsd", ErrNoDevice)
}
