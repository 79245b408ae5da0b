package protocol

import (
	"bytes"
	"testing"
)

func TestSYNRoundTrip(t *testing.T) {
	p := CreateSYN(0x1234, 0x0001, OptName)
	p.SetName("test")

	data, err := p.ToBytes(0)
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}

	parsed, err := Parse(data, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.PacketType != PacketTypeSYN {
		t.Fatalf("expected SYN, got %s", parsed.PacketType)
	}
	if parsed.SYN.Seq != 0x0001 || parsed.SYN.Name != "test" {
		t.Fatalf("unexpected SYN body: %+v", parsed.SYN)
	}
}

func TestMSGRoundTripWithData(t *testing.T) {
	payload := []byte("hello world")
	p := CreateMSG(0xabcd, 5, 3, payload)

	data, err := p.ToBytes(0)
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}

	parsed, err := Parse(data, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.MSG.Seq != 5 || parsed.MSG.Ack != 3 {
		t.Fatalf("unexpected seq/ack: %+v", parsed.MSG)
	}
	if !bytes.Equal(parsed.MSG.Data, payload) {
		t.Fatalf("data mismatch: %q != %q", parsed.MSG.Data, payload)
	}
}

func TestMSGRoundTripEmptyData(t *testing.T) {
	p := CreateMSG(1, 0, 0, nil)
	data, err := p.ToBytes(0)
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	parsed, err := Parse(data, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed.MSG.Data) != 0 {
		t.Fatalf("expected empty data, got %x", parsed.MSG.Data)
	}
}

func TestFINRoundTrip(t *testing.T) {
	p := CreateFIN(7, "done")
	data, _ := p.ToBytes(0)
	parsed, err := Parse(data, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.FIN.Reason != "done" {
		t.Fatalf("unexpected reason: %q", parsed.FIN.Reason)
	}
}

func TestENCInitRoundTrip(t *testing.T) {
	p := CreateENC(9, 0)
	var key [64]byte
	for i := range key {
		key[i] = byte(i)
	}
	p.SetEncInit(key[:])

	data, err := p.ToBytes(0)
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	parsed, err := Parse(data, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.ENC.Subtype != EncSubtypeInit {
		t.Fatalf("expected init subtype, got %v", parsed.ENC.Subtype)
	}
	if parsed.ENC.PublicKey != key {
		t.Fatalf("public key mismatch")
	}
}

func TestParseRejectsShortPacket(t *testing.T) {
	if _, err := Parse([]byte{0x00, 0x01}, 0); err == nil {
		t.Fatalf("expected error for short packet")
	}
}

func TestParseRejectsOversizePacket(t *testing.T) {
	oversized := make([]byte, MaxPacketSize+1)
	if _, err := Parse(oversized, 0); err == nil {
		t.Fatalf("expected error for oversize packet")
	}
}

func TestParseRejectsUnknownType(t *testing.T) {
	data := []byte{0x00, 0x00, 0x99, 0x00, 0x00}
	if _, err := Parse(data, 0); err == nil {
		t.Fatalf("expected error for unknown packet type")
	}
}

func TestPeekSessionID(t *testing.T) {
	p := CreateFIN(0xbeef, "x")
	data, _ := p.ToBytes(0)
	id, err := PeekSessionID(data)
	if err != nil {
		t.Fatalf("PeekSessionID: %v", err)
	}
	if id != 0xbeef {
		t.Fatalf("expected 0xbeef, got 0x%04x", id)
	}
}

func TestClonedPacketDoesNotAliasData(t *testing.T) {
	p := CreateMSG(1, 2, 3, []byte{1, 2, 3})
	clone := p.Clone()
	clone.MSG.Data[0] = 0xff
	if p.MSG.Data[0] == 0xff {
		t.Fatalf("clone aliases original MSG data")
	}
	clone.PacketID = p.PacketID + 1
	if p.PacketID == clone.PacketID {
		t.Fatalf("clone aliases original packet ID")
	}
}
