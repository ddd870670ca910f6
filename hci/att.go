package hci

import "encoding/binary"

// PutHandleValueNotification writes an ATT Handle Value Notification
// [Vol 3, Part F, 3.4.7.1] into b and returns its length.
func PutHandleValueNotification(b []byte, attrHandle uint16, value []byte) int {
	b[0] = ATTOpHandleValue
	binary.LittleEndian.PutUint16(b[1:3], attrHandle)
	return ATTNotifyHdrLen + copy(b[ATTNotifyHdrLen:], value)
}
