package buffer

import "testing"

func TestWriteReadRoundTrip(t *testing.T) {
	b := New()
	b.WriteUint16(0x1234)
	b.WriteUint32(0xdeadbeef)
	b.WriteBytes([]byte{0xaa, 0xbb, 0xcc})
	b.WriteCString("hello")

	r := Wrap(b.Bytes())

	u16, err := r.ReadUint16()
	if err != nil || u16 != 0x1234 {
		t.Fatalf("ReadUint16 = %x, %v", u16, err)
	}

	u32, err := r.ReadUint32()
	if err != nil || u32 != 0xdeadbeef {
		t.Fatalf("ReadUint32 = %x, %v", u32, err)
	}

	raw, err := r.ReadBytes(3)
	if err != nil || string(raw) != "\xaa\xbb\xcc" {
		t.Fatalf("ReadBytes = %x, %v", raw, err)
	}

	s, err := r.ReadCString()
	if err != nil || s != "hello" {
		t.Fatalf("ReadCString = %q, %v", s, err)
	}

	if r.Remaining() != 0 {
		t.Fatalf("expected no remaining bytes, got %d", r.Remaining())
	}
}

func TestReadPastEndFails(t *testing.T) {
	r := Wrap([]byte{0x01})
	if _, err := r.ReadUint16(); err != ErrShortRead {
		t.Fatalf("expected ErrShortRead, got %v", err)
	}
	if _, err := r.ReadBytes(5); err != ErrShortRead {
		t.Fatalf("expected ErrShortRead, got %v", err)
	}
}

func TestReadCStringNoTerminator(t *testing.T) {
	r := Wrap([]byte("no-nul-here"))
	if _, err := r.ReadCString(); err != ErrShortRead {
		t.Fatalf("expected ErrShortRead, got %v", err)
	}
	if r.Position() != 0 {
		t.Fatalf("position should be unchanged on failed read, got %d", r.Position())
	}
}

func TestReadRest(t *testing.T) {
	r := Wrap([]byte{1, 2, 3, 4})
	_, _ = r.ReadByte()
	rest := r.ReadRest()
	if string(rest) != "\x02\x03\x04" {
		t.Fatalf("ReadRest = %x", rest)
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected 0 remaining after ReadRest")
	}
}
