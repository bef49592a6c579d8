package bpfcap

import "errors"

// Sentinel errors for device acquisition and the record walk. Components
// return these wrapped with %w; only the top-level caller decides whether
// they are fatal.
var (
	// ErrPermissionDenied the system refused access to its bpf devices.
	// This is systemic, not per-device, so probing stops on the first one.
	ErrPermissionDenied = errors.New("permission denied opening bpf device")

	// ErrNoDevice every candidate bpf device failed to open.
	ErrNoDevice = errors.New("no bpf device available")

	// ErrBindInterface the device could not be associated with the
	// requested network interface.
	ErrBindInterface = errors.New("failed to bind bpf device to interface")

	// ErrConfigure a post-open device option or query failed.
	ErrConfigure = errors.New("failed to configure bpf device")

	// ErrTruncatedRecord a record header declares more bytes than the read
	// returned. The remainder of that read buffer is undecodable.
	ErrTruncatedRecord = errors.New("truncated bpf record")
)
