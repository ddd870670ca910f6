package evt

import (
	"encoding/binary"
	"fmt"
)

// Event is a complete HCI event packet without the H4 byte:
// event code, parameter length, parameters.
type Event []byte

func (e Event) CodeWErr() (uint8, error) {
	return getByte(e, 0, 0)
}

func (e Event) ParamLenWErr() (uint8, error) {
	return getByte(e, 1, 0)
}

// ParamsWErr returns the parameters, checking the length field against the buffer.
func (e Event) ParamsWErr() ([]byte, error) {
	plen, err := e.ParamLenWErr()
	if err != nil {
		return nil, err
	}
	if int(plen) != len(e)-headerLen {
		return nil, fmt.Errorf("event length mismatch: header %d, have %d", plen, len(e)-headerLen)
	}
	return e[headerLen:], nil
}

func (e CommandComplete) NumHCICommandPacketsWErr() (uint8, error) {
	return getByte(e, 0, 0)
}

func (e CommandComplete) CommandOpcodeWErr() (uint16, error) {
	return getUint16LE(e, 1, 0xffff)
}

func (e CommandComplete) ReturnParametersWErr() ([]byte, error) {
	return getBytes(e, commandCompleteHdrLen, -1)
}

func (r LEReadBufferSizeRP) ValidWErr() error {
	return minLen(r, leReadBufferSizeV1RPLen)
}

func (r LEReadBufferSizeRP) StatusWErr() (uint8, error) {
	return getByte(r, 0, 0xff)
}

func (r LEReadBufferSizeRP) LEACLDataPacketLengthWErr() (uint16, error) {
	return getUint16LE(r, 1, 0)
}

func (r LEReadBufferSizeRP) TotalNumLEACLDataPacketsWErr() (uint8, error) {
	return getByte(r, 3, 0)
}

func (r LEReadBufferSizeRP) SetTotalNumLEACLDataPacketsWErr(v uint8) error {
	return setByte(r, 3, v)
}

func (r LEReadBufferSizeV2RP) ValidWErr() error {
	return minLen(r, leReadBufferSizeV2RPLen)
}

func (r LEReadBufferSizeV2RP) StatusWErr() (uint8, error) {
	return getByte(r, 0, 0xff)
}

func (r LEReadBufferSizeV2RP) LEACLDataPacketLengthWErr() (uint16, error) {
	return getUint16LE(r, 1, 0)
}

func (r LEReadBufferSizeV2RP) TotalNumLEACLDataPacketsWErr() (uint8, error) {
	return getByte(r, 3, 0)
}

func (r LEReadBufferSizeV2RP) SetTotalNumLEACLDataPacketsWErr(v uint8) error {
	return setByte(r, 3, v)
}

func (r LEReadBufferSizeV2RP) ISODataPacketLengthWErr() (uint16, error) {
	return getUint16LE(r, 4, 0)
}

func (r LEReadBufferSizeV2RP) TotalNumISODataPacketsWErr() (uint8, error) {
	return getByte(r, 6, 0)
}

func (r ReadBufferSizeRP) ValidWErr() error {
	return minLen(r, readBufferSizeRPLen)
}

func (r ReadBufferSizeRP) StatusWErr() (uint8, error) {
	return getByte(r, 0, 0xff)
}

func (r ReadBufferSizeRP) ACLDataPacketLengthWErr() (uint16, error) {
	return getUint16LE(r, 1, 0)
}

func (r ReadBufferSizeRP) SynchronousDataPacketLengthWErr() (uint8, error) {
	return getByte(r, 3, 0)
}

func (r ReadBufferSizeRP) TotalNumACLDataPacketsWErr() (uint16, error) {
	return getUint16LE(r, 4, 0)
}

func (r ReadBufferSizeRP) SetTotalNumACLDataPacketsWErr(v uint16) error {
	return setUint16LE(r, 4, v)
}

// Per [Vol 2, Part E, 7.7.19], the packet structure should be:
//
//     NumOfHandle, HandleA, HandleB, CompPktNumA, CompPktNumB
//
// But controllers in the field (BCM20702A1 among them) send the entries
// interleaved, and so does the current core version:
//
//     NumOfHandle, HandleA, CompPktNumA, HandleB, CompPktNumB
//              02,   40 00,       01 00,   41 00,       01 00

func (e NumberOfCompletedPackets) NumberOfHandlesWErr() (uint8, error) {
	return getByte(e, 0, 0)
}

// ValidWErr checks that every entry announced by NumberOfHandles is present.
func (e NumberOfCompletedPackets) ValidWErr() error {
	n, err := e.NumberOfHandlesWErr()
	if err != nil {
		return err
	}
	return minLen(e, 1+int(n)*nocpEntryLen)
}

func (e NumberOfCompletedPackets) ConnectionHandleWErr(i int) (uint16, error) {
	si := 1 + (i * nocpEntryLen)
	v, err := getUint16LE(e, si, 0xffff)
	return v & 0x0fff, err
}

func (e NumberOfCompletedPackets) HCNumOfCompletedPacketsWErr(i int) (uint16, error) {
	si := 1 + (i * nocpEntryLen) + 2
	return getUint16LE(e, si, 0)
}

func (e NumberOfCompletedPackets) SetHCNumOfCompletedPacketsWErr(i int, v uint16) error {
	si := 1 + (i * nocpEntryLen) + 2
	return setUint16LE(e, si, v)
}

func (e DisconnectionComplete) ValidWErr() error {
	return minLen(e, disconnectionCompleteLen)
}

func (e DisconnectionComplete) StatusWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e DisconnectionComplete) ConnectionHandleWErr() (uint16, error) {
	v, err := getUint16LE(e, 1, 0xffff)
	return v & 0x0fff, err
}

func (e DisconnectionComplete) ReasonWErr() (uint8, error) {
	return getByte(e, 3, 0)
}

func minLen(b []byte, n int) error {
	if len(b) < n {
		return fmt.Errorf("too short: have %d bytes, want %d", len(b), n)
	}
	return nil
}

//get or default
func getByte(b []byte, i int, def byte) (byte, error) {
	bb, err := getBytes(b, i, 1)
	if err != nil {
		return def, err
	}
	return bb[0], nil
}

//get or default
func getUint16LE(b []byte, i int, def uint16) (uint16, error) {
	bb, err := getBytes(b, i, 2)
	if err != nil {
		return def, err
	}
	return binary.LittleEndian.Uint16(bb), nil
}

func getBytes(bytes []byte, start int, count int) ([]byte, error) {
	if bytes == nil || start > len(bytes) || (count >= 0 && start == len(bytes) && count > 0) {
		return nil, fmt.Errorf("index error")
	}

	if count < 0 {
		return bytes[start:], nil
	}

	end := start + count
	//end is non-inclusive
	if end > len(bytes) {
		return nil, fmt.Errorf("index error")
	}

	return bytes[start:end], nil
}

func setByte(b []byte, i int, v byte) error {
	bb, err := getBytes(b, i, 1)
	if err != nil {
		return err
	}
	bb[0] = v
	return nil
}

func setUint16LE(b []byte, i int, v uint16) error {
	bb, err := getBytes(b, i, 2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(bb, v)
	return nil
}
