package gateway

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// buildErrorFrame constructs the synthetic PostgreSQL ErrorResponse frame
// emitted when no primary is available at accept time:
//
//	'E'                     frame type
//	int32 length            includes itself, excludes the type byte
//	'S' "FATAL" 0x00        severity
//	'C' "08006" 0x00        SQLSTATE connection_failure
//	'M' <message> 0x00      human message
//	0x00                    terminator
func buildErrorFrame(message string) []byte {
	severity := []byte("SFATAL\x00")
	sqlstate := []byte("C08006\x00")
	msgField := make([]byte, 0, len(message)+2)
	msgField = append(msgField, 'M')
	msgField = append(msgField, message...)
	msgField = append(msgField, 0x00)

	bodyLen := 4 + len(severity) + len(sqlstate) + len(msgField) + 1

	frame := make([]byte, 1+bodyLen)
	frame[0] = 'E'
	binary.BigEndian.PutUint32(frame[1:5], uint32(bodyLen))
	off := 5
	off += copy(frame[off:], severity)
	off += copy(frame[off:], sqlstate)
	off += copy(frame[off:], msgField)
	frame[off] = 0x00

	return frame
}

// sendErrorFrame writes the synthetic error frame to fd on a best-effort
// basis: write failures are ignored, the caller closes the socket
// regardless.
func sendErrorFrame(fd int, message string) {
	frame := buildErrorFrame(message)
	for len(frame) > 0 {
		n, err := unix.Write(fd, frame)
		if err != nil || n <= 0 {
			return
		}
		frame = frame[n:]
	}
}
