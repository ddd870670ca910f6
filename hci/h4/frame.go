package h4

import (
	"fmt"
	"time"

	"github.com/rigado/bleproxy/hci"
)

// Fixed header sizes including the H4 type byte.
const (
	cmdHeaderLen = 4 // type, opcode, length
	aclHeaderLen = 5 // type, handle, length
	scoHeaderLen = 4 // type, handle, length
	evtHeaderLen = 3 // type, code, length
	isoHeaderLen = 5 // type, handle, length

	frameTimeout = time.Millisecond * 500
)

// frame reassembles H4 packets out of an unframed byte stream. Bytes which
// can't start a packet are dropped until a known type byte shows up, and a
// partial packet older than frameTimeout is discarded.
type frame struct {
	b       []byte
	timeout time.Time
	out     func([]byte)
}

func newFrame(out func([]byte)) *frame {
	return &frame{
		b:   make([]byte, 0, 256),
		out: out,
	}
}

func (f *frame) Assemble(b []byte) {
	if len(b) == 0 {
		// nothing to look at
		return
	}

	if len(f.b) > 0 && time.Now().After(f.timeout) {
		//timed out
		f.reset()
	}

	if len(f.b) == 0 {
		f.timeout = time.Now().Add(frameTimeout)
	}
	f.b = append(f.b, b...)

	for {
		f.waitStart()
		if len(f.b) == 0 {
			return
		}

		tl, err := frameLength(f.b)
		if err != nil || len(f.b) < tl {
			return
		}

		out := make([]byte, tl)
		copy(out, f.b[:tl])

		// shift
		n := copy(f.b, f.b[tl:])
		f.b = f.b[:n]
		f.timeout = time.Now().Add(frameTimeout)

		f.out(out)
	}
}

func (f *frame) reset() {
	f.b = f.b[:0]
	f.timeout = time.Time{}
}

// waitStart drops leading bytes which aren't an H4 packet type.
func (f *frame) waitStart() {
	for i, v := range f.b {
		if isPacketType(v) {
			if i > 0 {
				n := copy(f.b, f.b[i:])
				f.b = f.b[:n]
			}
			return
		}
	}
	f.b = f.b[:0]
}

func isPacketType(v byte) bool {
	switch v {
	case hci.PktTypeCommand, hci.PktTypeACLData, hci.PktTypeSCOData, hci.PktTypeEvent, hci.PktTypeISOData:
		return true
	default:
		return false
	}
}

// frameLength returns the total length of the H4 packet at the start of b.
func frameLength(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("not enough bytes")
	}

	var hl int
	switch b[0] {
	case hci.PktTypeCommand:
		hl = cmdHeaderLen
	case hci.PktTypeACLData:
		hl = aclHeaderLen
	case hci.PktTypeSCOData:
		hl = scoHeaderLen
	case hci.PktTypeEvent:
		hl = evtHeaderLen
	case hci.PktTypeISOData:
		hl = isoHeaderLen
	default:
		return 0, fmt.Errorf("invalid packet type %v", b[0])
	}

	if len(b) < hl {
		return 0, fmt.Errorf("not enough bytes")
	}

	switch b[0] {
	case hci.PktTypeACLData:
		return hl + (int(b[3]) | (int(b[4]) << 8)), nil
	case hci.PktTypeISOData:
		return hl + ((int(b[3]) | (int(b[4]) << 8)) & 0x3fff), nil
	case hci.PktTypeEvent:
		return hl + int(b[2]), nil
	default:
		return hl + int(b[3]), nil
	}
}
