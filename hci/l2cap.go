package hci

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Pdu is an L2CAP basic frame, or the leading part of one when the PDU is
// fragmented over several ACL packets [Vol 3, Part A, 3.1].
type Pdu []byte

// HasHeader reports whether the basic L2CAP header is present.
func (p Pdu) HasHeader() bool { return len(p) >= L2CAPHeaderLen }

func (p Pdu) Len() int        { return int(binary.LittleEndian.Uint16(p[0:2])) }
func (p Pdu) CID() uint16     { return binary.LittleEndian.Uint16(p[2:4]) }
func (p Pdu) Payload() []byte { return p[L2CAPHeaderLen:] }

// Complete reports whether the PDU holds exactly the declared payload.
func (p Pdu) Complete() bool {
	return p.HasHeader() && len(p)-L2CAPHeaderLen == p.Len()
}

// KFrame is the first K-frame of an SDU on an LE credit based channel: the
// basic header followed by the 2 byte SDU length [Vol 3, Part A, 3.4].
type KFrame Pdu

func (f KFrame) HasSDUHeader() bool { return len(f) >= L2CAPHeaderLen+SDULengthLen }
func (f KFrame) SDULen() int        { return int(binary.LittleEndian.Uint16(f[4:6])) }
func (f KFrame) SDUData() []byte    { return f[L2CAPHeaderLen+SDULengthLen:] }

// SetSDULen writes the SDU length field.
func (f KFrame) SetSDULen(n int) { binary.LittleEndian.PutUint16(f[4:6], uint16(n)) }

// Signal is one command of an L2CAP signaling C-frame [Vol 3, Part A, 4].
type Signal []byte

func (s Signal) Valid() bool  { return len(s) >= SignalHeaderLen && len(s)-SignalHeaderLen >= s.Len() }
func (s Signal) Code() uint8  { return s[0] }
func (s Signal) ID() uint8    { return s[1] }
func (s Signal) Len() int     { return int(binary.LittleEndian.Uint16(s[2:4])) }
func (s Signal) Data() []byte { return s[SignalHeaderLen : SignalHeaderLen+s.Len()] }

// PutL2CAPHeader writes a basic L2CAP header.
func PutL2CAPHeader(b []byte, length int, cid uint16) {
	binary.LittleEndian.PutUint16(b[0:2], uint16(length))
	binary.LittleEndian.PutUint16(b[2:4], cid)
}

// L2CAPOverhead is the number of bytes in front of an L2CAP payload in an H4 buffer.
const L2CAPOverhead = H4HeaderLen + ACLHeaderLen + L2CAPHeaderLen

// PutL2CAPPacket fills b with the H4, ACL and L2CAP headers of a complete,
// unfragmented PDU with an n byte payload, and returns the payload region and
// the total packet length.
func PutL2CAPPacket(b []byte, handle, cid uint16, n int) ([]byte, int, error) {
	total := L2CAPOverhead + n
	if total > len(b) {
		return nil, 0, errors.Errorf("l2cap payload of %d bytes does not fit in a %d byte buffer", n, len(b))
	}
	b[0] = PktTypeACLData
	PutACLHeader(b[H4HeaderLen:], handle, PbfHostToControllerStart, L2CAPHeaderLen+n)
	PutL2CAPHeader(b[H4HeaderLen+ACLHeaderLen:], n, cid)
	return b[L2CAPOverhead:total], total, nil
}

// PutSignal writes a signaling command header followed by data.
func PutSignal(b []byte, code, id uint8, data []byte) int {
	b[0] = code
	b[1] = id
	binary.LittleEndian.PutUint16(b[2:4], uint16(len(data)))
	return SignalHeaderLen + copy(b[SignalHeaderLen:], data)
}
