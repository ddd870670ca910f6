package hci

import (
	"bytes"
	"testing"
)

func TestACLHeader(t *testing.T) {
	b := make([]byte, ACLHeaderLen+3)
	PutACLHeader(b, 0x0ABC, PbfContinuing, 3)

	a := ACL(b)
	if !a.Valid() {
		t.Fatalf("expected valid acl: % x", b)
	}
	if a.Handle() != 0x0ABC {
		t.Fatalf("handle: got 0x%04x", a.Handle())
	}
	if !a.IsContinuation() {
		t.Fatalf("expected continuation, pbf %d", a.Pbf())
	}
	if a.DataLen() != 3 || len(a.Data()) != 3 {
		t.Fatalf("data len: got %d", a.DataLen())
	}

	if ACL(b[:ACLHeaderLen+2]).Valid() {
		t.Fatalf("expected length mismatch to be invalid")
	}
	if ACL(b[:2]).Valid() {
		t.Fatalf("expected short header to be invalid")
	}
}

func TestPutL2CAPPacket(t *testing.T) {
	b := make([]byte, 32)
	payload, total, err := PutL2CAPPacket(b, 0x0123, CidLEAtt, 3)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if total != L2CAPOverhead+3 || len(payload) != 3 {
		t.Fatalf("total %d, payload %d", total, len(payload))
	}
	copy(payload, []byte{0xaa, 0xbb, 0xcc})

	want := []byte{0x02, 0x23, 0x01, 0x07, 0x00, 0x03, 0x00, 0x04, 0x00, 0xaa, 0xbb, 0xcc}
	if !bytes.Equal(b[:total], want) {
		t.Fatalf("got % x, want % x", b[:total], want)
	}

	pdu := Pdu(b[H4HeaderLen+ACLHeaderLen : total])
	if !pdu.Complete() || pdu.CID() != CidLEAtt {
		t.Fatalf("pdu: % x", []byte(pdu))
	}

	if _, _, err := PutL2CAPPacket(b, 0x0123, CidLEAtt, 32); err == nil {
		t.Fatalf("expected error for oversized payload")
	}
}

func TestSignal(t *testing.T) {
	b := make([]byte, 16)
	n := PutSignal(b, SigFlowControlCreditInd, 7, []byte{0x40, 0x00, 0x05, 0x00})
	s := Signal(b[:n])
	if !s.Valid() {
		t.Fatalf("expected valid signal: % x", b[:n])
	}
	if s.Code() != SigFlowControlCreditInd || s.ID() != 7 || s.Len() != 4 {
		t.Fatalf("got code 0x%02x id %d len %d", s.Code(), s.ID(), s.Len())
	}
	if Signal(b[:n-1]).Valid() {
		t.Fatalf("expected truncated signal to be invalid")
	}
}

func TestPacketRelease(t *testing.T) {
	released := 0
	p := NewPacketWithRelease(make([]byte, 8), func() { released++ })
	p.Resize(4)
	if p.Len() != 4 || p.Cap() != 8 {
		t.Fatalf("len %d cap %d", p.Len(), p.Cap())
	}
	p.Resize(100)
	if p.Len() != 8 {
		t.Fatalf("resize past capacity: len %d", p.Len())
	}

	p.Release()
	p.Release()
	if released != 1 {
		t.Fatalf("release hook ran %d times", released)
	}

	if NewPacket(nil).Type() != PktTypeUnknown {
		t.Fatalf("empty packet should have unknown type")
	}
}

func TestHandleValueNotification(t *testing.T) {
	b := make([]byte, 8)
	n := PutHandleValueNotification(b, 0x0345, []byte{0xfa, 0x0b})
	want := []byte{ATTOpHandleValue, 0x45, 0x03, 0xfa, 0x0b}
	if !bytes.Equal(b[:n], want) {
		t.Fatalf("got % x, want % x", b[:n], want)
	}
}

func TestKFrameSDULength(t *testing.T) {
	b := []byte{0x05, 0x00, 0x40, 0x00, 0x00, 0x00, 0xaa, 0xbb, 0xcc}
	f := KFrame(b)
	if !f.HasSDUHeader() {
		t.Fatalf("expected sdu header: % x", b)
	}
	f.SetSDULen(0x0123)
	if f.SDULen() != 0x0123 || b[4] != 0x23 || b[5] != 0x01 {
		t.Fatalf("sdu len: got 0x%04x, % x", f.SDULen(), b[4:6])
	}
	if !bytes.Equal(f.SDUData(), []byte{0xaa, 0xbb, 0xcc}) {
		t.Fatalf("sdu data: % x", f.SDUData())
	}
	if KFrame(b[:5]).HasSDUHeader() {
		t.Fatalf("expected short frame to lack the sdu header")
	}
}
