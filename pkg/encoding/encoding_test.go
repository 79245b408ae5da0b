package encoding

import (
	"bytes"
	"testing"
)

func TestHexRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0x00, 0x01, 0x02, 0xff},
		bytes.Repeat([]byte{0xAB}, 200),
	}
	for _, c := range cases {
		enc := EncodeHex(c)
		dec, err := DecodeHex(enc)
		if err != nil {
			t.Fatalf("DecodeHex(%q): %v", enc, err)
		}
		if !bytes.Equal(dec, c) {
			t.Fatalf("round trip mismatch: %x != %x", dec, c)
		}
	}
}

func TestHexIgnoresDots(t *testing.T) {
	dec, err := DecodeHex("00.01.02.ff")
	if err != nil {
		t.Fatalf("DecodeHex: %v", err)
	}
	if !bytes.Equal(dec, []byte{0x00, 0x01, 0x02, 0xff}) {
		t.Fatalf("got %x", dec)
	}
}

func TestHexRejectsOddLength(t *testing.T) {
	if _, err := DecodeHex("abc"); err == nil {
		t.Fatalf("expected error for odd-length hex")
	}
}

func TestHexRejectsNonHex(t *testing.T) {
	if _, err := DecodeHex("zz"); err == nil {
		t.Fatalf("expected error for non-hex characters")
	}
}

func TestBase32RoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0x00, 0x01, 0x02, 0xff},
		bytes.Repeat([]byte{0x5A}, 97),
	}
	for _, c := range cases {
		enc := EncodeBase32(c)
		dec, err := DecodeBase32(enc)
		if err != nil {
			t.Fatalf("DecodeBase32(%q): %v", enc, err)
		}
		if !bytes.Equal(dec, c) {
			t.Fatalf("round trip mismatch: %x != %x", dec, c)
		}
	}
}
