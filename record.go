package bpfcap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"github.com/gopacket/gopacket"
	log "github.com/sirupsen/logrus"
)

const (
	// alignmentUnit is the padding boundary the kernel uses between packed
	// records in a bpf store buffer, a 64-bit long.
	alignmentUnit = 8

	sizeofTimeval      = 8
	sizeofRecordHeader = sizeofTimeval + 4 + 4 + 2
)

// recordHeader is the fixed-size metadata in front of each captured frame:
//
//	struct bpf_hdr {
//	    struct bpf_timeval bh_tstamp;
//	    bpf_u_int32 bh_caplen;
//	    bpf_u_int32 bh_datalen;
//	    u_short bh_hdrlen;
//	};
//
// Parsed fresh from buffer bytes on every walk step, never stored.
type recordHeader struct {
	caplen  uint32
	datalen uint32
	hdrlen  uint16
}

func parseRecordHeader(b []byte, order binary.ByteOrder) recordHeader {
	return recordHeader{
		caplen:  order.Uint32(b[sizeofTimeval:]),
		datalen: order.Uint32(b[sizeofTimeval+4:]),
		hdrlen:  order.Uint16(b[sizeofTimeval+8:]),
	}
}

// wordAlign rounds n up to the next multiple of alignmentUnit, matching the
// kernel's padding between records. Idempotent and monotonic:
// n <= wordAlign(n) < n+alignmentUnit.
func wordAlign(n int) int {
	return (n + (alignmentUnit - 1)) &^ (alignmentUnit - 1)
}

// walkRecords extracts every record packed into buf, the valid region of one
// read result, and hands each frame payload to sink. It returns the final
// cursor position.
//
// The cursor never crosses len(buf). A tail too short to hold a header is
// dropped silently; the kernel truncates only at the end of its store buffer
// and the next read starts clean. A header whose declared lengths reach past
// the buffer ends the walk with ErrTruncatedRecord, leaving the records
// already dispatched unaffected.
func walkRecords(buf []byte, order binary.ByteOrder, ifindex int, sink FrameSink) (int, error) {
	cursor := 0
	for cursor < len(buf) {
		remaining := len(buf) - cursor
		if remaining < sizeofRecordHeader {
			log.WithFields(log.Fields{
				"cursor":    cursor,
				"remaining": remaining,
			}).Debug("dropping record tail shorter than a header")
			return cursor, nil
		}
		hdr := parseRecordHeader(buf[cursor:], order)
		if int(hdr.hdrlen) < sizeofRecordHeader {
			return cursor, fmt.Errorf("%w: header length %d below minimum %d at offset %d",
				ErrTruncatedRecord, hdr.hdrlen, sizeofRecordHeader, cursor)
		}
		end := cursor + int(hdr.hdrlen) + int(hdr.caplen)
		if end > len(buf) {
			return cursor, fmt.Errorf("%w: record at offset %d declares %d header + %d captured bytes with %d remaining",
				ErrTruncatedRecord, cursor, hdr.hdrlen, hdr.caplen, remaining)
		}
		sink(buf[cursor+int(hdr.hdrlen):end], gopacket.CaptureInfo{
			CaptureLength:  int(hdr.caplen),
			Length:         int(hdr.datalen),
			InterfaceIndex: ifindex,
		})
		cursor += wordAlign(int(hdr.hdrlen) + int(hdr.caplen))
		if cursor > len(buf) {
			// the kernel does not pad past the end of the valid region
			cursor = len(buf)
		}
	}
	return cursor, nil
}

// getEndianness discover the endianness of our current system
func getEndianness() (binary.ByteOrder, error) {
	buf := [2]byte{}
	*(*uint16)(unsafe.Pointer(&buf[0])) = uint16(0xABCD)

	switch buf {
	case [2]byte{0xCD, 0xAB}:
		return binary.LittleEndian, nil
	case [2]byte{0xAB, 0xCD}:
		return binary.BigEndian, nil
	default:
		return nil, errors.New("could not determine native endianness")
	}
}
