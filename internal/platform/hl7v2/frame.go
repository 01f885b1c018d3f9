package hl7v2

import "bytes"

const (
	// StartBlock is the MLLP start-of-message byte (VT / vertical tab).
	StartBlock = 0x0B

	// EndBlock is the MLLP end-of-message byte (FS / file separator).
	EndBlock = 0x1C

	// CarriageReturn is the trailing CR after the end block.
	CarriageReturn = 0x0D

	// DefaultMaxFrameBytes caps a single MLLP frame when no explicit limit
	// is configured (1 MiB).
	DefaultMaxFrameBytes = 1 << 20
)

// FramingError reports a malformed or oversized MLLP envelope.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return "mllp: " + e.Reason
}

// Frame wraps a message in the MLLP envelope:
//
//	<0x0B> + message + <0x1C><0x0D>
func Frame(payload []byte) []byte {
	framed := make([]byte, 0, len(payload)+3)
	framed = append(framed, StartBlock)
	framed = append(framed, payload...)
	framed = append(framed, EndBlock, CarriageReturn)
	return framed
}

// Decode strips the MLLP envelope from a complete frame. The buffer must
// begin with the start block and end with the end block plus carriage
// return; anything else is a FramingError. max caps the payload length
// (<= 0 means DefaultMaxFrameBytes).
func Decode(frame []byte, max int) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxFrameBytes
	}
	if len(frame) < 3 {
		return nil, &FramingError{Reason: "frame too short"}
	}
	if frame[0] != StartBlock {
		return nil, &FramingError{Reason: "missing start block"}
	}
	if frame[len(frame)-2] != EndBlock || frame[len(frame)-1] != CarriageReturn {
		return nil, &FramingError{Reason: "missing end block"}
	}
	payload := frame[1 : len(frame)-2]
	if len(payload) > max {
		return nil, &FramingError{Reason: "frame exceeds maximum length"}
	}
	return payload, nil
}

// Unframe scans an accumulation buffer for the first complete frame. It
// returns the payload, the remaining bytes after the frame, and whether a
// complete frame was found. When the buffer grows past max without
// containing a complete frame, or a frame's payload exceeds max, a
// FramingError is returned so the caller can abandon the peer.
func Unframe(buf []byte, max int) (payload, rest []byte, found bool, err error) {
	if max <= 0 {
		max = DefaultMaxFrameBytes
	}

	startIdx := bytes.IndexByte(buf, StartBlock)
	if startIdx == -1 {
		if len(buf) > max {
			return nil, buf, false, &FramingError{Reason: "no start block within maximum frame length"}
		}
		return nil, buf, false, nil
	}

	endSeq := []byte{EndBlock, CarriageReturn}
	endIdx := bytes.Index(buf[startIdx+1:], endSeq)
	if endIdx == -1 {
		if len(buf)-startIdx-1 > max {
			return nil, buf, false, &FramingError{Reason: "frame exceeds maximum length"}
		}
		return nil, buf, false, nil
	}
	endIdx = startIdx + 1 + endIdx

	payload = buf[startIdx+1 : endIdx]
	if len(payload) > max {
		return nil, buf[endIdx+2:], false, &FramingError{Reason: "frame exceeds maximum length"}
	}

	return payload, buf[endIdx+2:], true, nil
}
