package dns

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodeDNSNameChunksLabelsUnderLimit(t *testing.T) {
	d := &Driver{Domain: "tunnel.example.com"}
	payload := bytes.Repeat([]byte{0xAB}, 100)

	name := d.encodeDNSName(payload)
	for _, label := range strings.Split(name, ".") {
		if len(label) > MaxFieldLength {
			t.Fatalf("label %q exceeds MaxFieldLength", label)
		}
	}
	if len(name) > MaxDNSLength {
		t.Fatalf("encoded name exceeds MaxDNSLength: %d", len(name))
	}
}

func TestEncodeDNSNameWildcardWhenNoDomain(t *testing.T) {
	d := &Driver{Domain: ""}
	name := d.encodeDNSName([]byte{0x01})
	if name[:len(WildcardPrefix)+1] != WildcardPrefix+"." {
		t.Fatalf("expected wildcard prefix, got %q", name)
	}
}

func TestDecodeTXTResponseRoundTrip(t *testing.T) {
	d := &Driver{Domain: "tunnel.example.com", Types: []DNSType{TypeTXT}}
	payload := []byte("hello dnscat")

	name := d.encodeDNSName(payload)
	// TXT answer data on the wire carries the hex text with a one-byte
	// length prefix, exactly like the label string minus the domain.
	hexText := name[:len(name)-len("."+d.Domain)]

	resp := &DNSResponse{
		Answers: []DNSAnswer{
			{Type: TypeTXT, Data: []byte(hexText)},
		},
	}

	decoded, err := d.decodeDNSResponse(resp)
	if err != nil {
		t.Fatalf("decodeDNSResponse: %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Fatalf("round trip mismatch: %q != %q", decoded, payload)
	}
}

func TestDecodeAResponseReassembly(t *testing.T) {
	d := &Driver{Domain: "", Types: []DNSType{TypeA}}
	payload := []byte{0x10, 0x20, 0x30}

	// Each A record carries a sort-index byte followed by 3 payload
	// bytes; after sorting by that index and concatenating, the first
	// reassembled byte is the overall payload length.
	answers := []DNSAnswer{
		{Type: TypeA, Data: []byte{1, payload[2], 0, 0}},
		{Type: TypeA, Data: []byte{0, byte(len(payload)), payload[0], payload[1]}},
	}
	resp := &DNSResponse{Answers: answers}

	decoded, err := d.decodeDNSResponse(resp)
	if err != nil {
		t.Fatalf("decodeDNSResponse: %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Fatalf("round trip mismatch: %x != %x", decoded, payload)
	}
}

func TestRemoveDomainSuffix(t *testing.T) {
	d := &Driver{Domain: "tunnel.example.com"}
	got := d.removeDomain("6162.tunnel.example.com")
	if got != "6162" {
		t.Fatalf("removeDomain = %q, want %q", got, "6162")
	}
	if d.removeDomain("tunnel.example.com") != "" {
		t.Fatalf("expected empty string when name equals the domain")
	}
	if d.removeDomain("6162.other.com") != "" {
		t.Fatalf("expected empty string for a non-matching suffix")
	}
}
