package bpfcap

/*
 Captures raw link-layer frames through the BSD Berkeley Packet Filter
 character devices (/dev/bpf*), without libpcap. Some good references:
  "man 4 bpf" on FreeBSD or macOS
  https://github.com/c-bata/xpcap/blob/master/sniffer.c#L50
  https://gist.github.com/2opremio/6fda363ab384b0d85347956fb79a3927

 A read on a bpf device returns a store buffer holding one or more records,
 each a fixed-size header (timestamp, captured length, original length,
 header length) followed by the frame bytes, padded out to the kernel's
 word alignment. The walk over that buffer lives in record.go.
*/
