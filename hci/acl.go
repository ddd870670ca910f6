package hci

import "encoding/binary"

// ACL implements HCI ACL Data Packet [Vol 2, Part E, 5.4.2] without the H4 byte.
// Packet boundary flags , bit[5:6] of handle field's MSB
// Broadcast flags. bit[7:8] of handle field's MSB
// Not used in LE-U. Leave it as 0x00 (Point-to-Point).
type ACL []byte

// Valid reports whether the header is present and the data length matches.
func (a ACL) Valid() bool {
	return len(a) >= ACLHeaderLen && len(a)-ACLHeaderLen == a.DataLen()
}

func (a ACL) Handle() uint16 { return uint16(a[0]) | (uint16(a[1]&0x0f) << 8) }
func (a ACL) Pbf() int       { return (int(a[1]) >> 4) & 0x3 }
func (a ACL) Bcf() int       { return (int(a[1]) >> 6) & 0x3 }
func (a ACL) DataLen() int   { return int(a[2]) | (int(a[3]) << 8) }
func (a ACL) Data() []byte   { return a[ACLHeaderLen:] }

// IsContinuation reports whether this fragment continues an earlier start fragment.
func (a ACL) IsContinuation() bool { return a.Pbf() == PbfContinuing }

// PutACLHeader writes the ACL header for a fragment of dlen bytes.
func PutACLHeader(b []byte, handle uint16, pbf int, dlen int) {
	binary.LittleEndian.PutUint16(b[0:2], (handle&ConnHandleMask)|uint16(pbf&0x3)<<12)
	binary.LittleEndian.PutUint16(b[2:4], uint16(dlen))
}
