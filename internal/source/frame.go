// Package source delivers flow records and data-point lists from the
// record channel (a framed socket) or from a pcap file replay.
package source

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// Frame types on the record channel. Every frame is a 4-byte big-endian
// payload length followed by the payload; the first payload byte is the
// type.
const (
	frameFormat = 'F' // payload: template specification string
	frameData   = 'D' // payload: one encoded record
)

// maxFrameSize guards against corrupted length prefixes.
const maxFrameSize = 16 * 1024 * 1024

// ReadTimeout bounds a single receive so stop signals stay responsive even
// without traffic.
const ReadTimeout = 500 * time.Millisecond

// readFrame reads one length-prefixed frame. The deadline must already be
// set by the caller.
func readFrame(conn net.Conn) (frameType byte, payload []byte, err error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if size == 0 {
		return 0, nil, fmt.Errorf("zero-length frame")
	}
	if size > maxFrameSize {
		return 0, nil, fmt.Errorf("frame of %d bytes exceeds limit", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return 0, nil, err
	}
	return buf[0], buf[1:], nil
}

// writeFrame writes one frame. Used by the test harness and by tools
// feeding the modules.
func writeFrame(conn net.Conn, frameType byte, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)+1))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := conn.Write([]byte{frameType}); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}

// dial connects a source spec of the form "tcp:host:port" or "unix:path".
func dial(spec string) (net.Conn, error) {
	switch {
	case len(spec) > 4 && spec[:4] == "tcp:":
		return net.Dial("tcp", spec[4:])
	case len(spec) > 5 && spec[:5] == "unix:":
		return net.Dial("unix", spec[5:])
	default:
		return nil, fmt.Errorf("unsupported source specification %q", spec)
	}
}
