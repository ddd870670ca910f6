package evt

import (
	"testing"
)

func TestEventParams(t *testing.T) {
	e := Event{0x13, 0x05, 0x01, 0x40, 0x00, 0x02, 0x00}
	code, err := e.CodeWErr()
	if err != nil || code != NumberOfCompletedPacketsCode {
		t.Fatalf("code: got %v %v", code, err)
	}
	p, err := e.ParamsWErr()
	if err != nil || len(p) != 5 {
		t.Fatalf("params: got %x %v", p, err)
	}

	if _, err := (Event{0x13, 0x06, 0x01}).ParamsWErr(); err == nil {
		t.Fatalf("expected length mismatch")
	}
	if _, err := (Event{0x13}).ParamsWErr(); err == nil {
		t.Fatalf("expected short header error")
	}
}

func TestNumberOfCompletedPackets(t *testing.T) {
	// two handles, interleaved layout
	e := NumberOfCompletedPackets{0x02, 0x40, 0x00, 0x08, 0x00, 0x41, 0x20, 0x0f, 0x00}
	if err := e.ValidWErr(); err != nil {
		t.Fatalf("valid: %v", err)
	}

	cases := []struct {
		handle uint16
		count  uint16
	}{
		{0x0040, 8},
		{0x0041, 15},
	}
	for i, tc := range cases {
		h, err := e.ConnectionHandleWErr(i)
		if err != nil || h != tc.handle {
			t.Fatalf("entry %d: handle got 0x%04x %v, want 0x%04x", i, h, err, tc.handle)
		}
		c, err := e.HCNumOfCompletedPacketsWErr(i)
		if err != nil || c != tc.count {
			t.Fatalf("entry %d: count got %d %v, want %d", i, c, err, tc.count)
		}
	}

	if err := e.SetHCNumOfCompletedPacketsWErr(1, 5); err != nil {
		t.Fatalf("set: %v", err)
	}
	if e[7] != 0x05 || e[8] != 0x00 {
		t.Fatalf("count not written in place: % x", []byte(e))
	}
	if err := e.SetHCNumOfCompletedPacketsWErr(2, 1); err == nil {
		t.Fatalf("expected index error past the last entry")
	}

	short := NumberOfCompletedPackets{0x02, 0x40, 0x00, 0x08, 0x00}
	if err := short.ValidWErr(); err == nil {
		t.Fatalf("expected error for truncated entries")
	}
}

func TestCommandComplete(t *testing.T) {
	// LE Read Buffer Size v1: status 0, 251 bytes, 10 packets
	e := CommandComplete{0x01, 0x02, 0x20, 0x00, 0xfb, 0x00, 0x0a}
	op, err := e.CommandOpcodeWErr()
	if err != nil || op != 0x2002 {
		t.Fatalf("opcode: got 0x%04x %v", op, err)
	}
	rp, err := e.ReturnParametersWErr()
	if err != nil {
		t.Fatalf("return params: %v", err)
	}

	r := LEReadBufferSizeRP(rp)
	if err := r.ValidWErr(); err != nil {
		t.Fatalf("valid: %v", err)
	}
	if l, _ := r.LEACLDataPacketLengthWErr(); l != 251 {
		t.Fatalf("length: got %d", l)
	}
	if n, _ := r.TotalNumLEACLDataPacketsWErr(); n != 10 {
		t.Fatalf("total: got %d", n)
	}
	if err := r.SetTotalNumLEACLDataPacketsWErr(8); err != nil {
		t.Fatalf("set: %v", err)
	}
	if e[6] != 8 {
		t.Fatalf("total not rewritten in the event: % x", []byte(e))
	}
}

func TestReadBufferSize(t *testing.T) {
	r := ReadBufferSizeRP{0x00, 0xfd, 0x03, 0x40, 0x09, 0x00, 0x08, 0x00}
	if err := r.ValidWErr(); err != nil {
		t.Fatalf("valid: %v", err)
	}
	if l, _ := r.ACLDataPacketLengthWErr(); l != 1021 {
		t.Fatalf("acl length: got %d", l)
	}
	if n, _ := r.TotalNumACLDataPacketsWErr(); n != 9 {
		t.Fatalf("total: got %d", n)
	}
	r.SetTotalNumACLDataPacketsWErr(7)
	if n, _ := r.TotalNumACLDataPacketsWErr(); n != 7 {
		t.Fatalf("total after set: got %d", n)
	}

	if err := (ReadBufferSizeRP{0x00, 0xfd}).ValidWErr(); err == nil {
		t.Fatalf("expected short error")
	}
}

func TestLEReadBufferSizeV2(t *testing.T) {
	r := LEReadBufferSizeV2RP{0x00, 0xfb, 0x00, 0x0c, 0x00, 0x01, 0x04}
	if err := r.ValidWErr(); err != nil {
		t.Fatalf("valid: %v", err)
	}
	if n, _ := r.TotalNumLEACLDataPacketsWErr(); n != 12 {
		t.Fatalf("total: got %d", n)
	}
	if l, _ := r.ISODataPacketLengthWErr(); l != 0x100 {
		t.Fatalf("iso length: got %d", l)
	}
	if n, _ := r.TotalNumISODataPacketsWErr(); n != 4 {
		t.Fatalf("iso total: got %d", n)
	}
}

func TestDisconnectionComplete(t *testing.T) {
	e := DisconnectionComplete{0x00, 0x41, 0x00, 0x13}
	if err := e.ValidWErr(); err != nil {
		t.Fatalf("valid: %v", err)
	}
	if h, _ := e.ConnectionHandleWErr(); h != 0x41 {
		t.Fatalf("handle: got 0x%04x", h)
	}
	if r, _ := e.ReasonWErr(); r != 0x13 {
		t.Fatalf("reason: got 0x%02x", r)
	}
	if err := (DisconnectionComplete{0x00, 0x41}).ValidWErr(); err == nil {
		t.Fatalf("expected short error")
	}
}
