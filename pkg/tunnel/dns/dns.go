// Package dns implements the DNS tunnel driver: it packs controller
// payloads into DNS queries of the configured record type(s) and
// unpacks answers back into controller payloads, polling the
// configured resolver at a pace driven by the controller's session
// activity.
package dns

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"dnscat2/internal/logger"
	"dnscat2/pkg/controller"
	"dnscat2/pkg/encoding"
)

const (
	MaxFieldLength = 62
	MaxDNSLength   = 255
	WildcardPrefix = "dnscat"
)

// DNSType represents DNS record types
type DNSType uint16

const (
	TypeA     DNSType = 1
	TypeNS    DNSType = 2
	TypeCNAME DNSType = 5
	TypeMX    DNSType = 15
	TypeTXT   DNSType = 16
	TypeAAAA  DNSType = 28
)

// Driver implements the DNS tunnel driver
type Driver struct {
	Domain    string
	DNSServer string
	DNSPort   uint16
	Types     []DNSType
	conn      *net.UDPConn
}

// NewDriver creates a new DNS tunnel driver
func NewDriver(domain, host string, port uint16, types string, server string) (*Driver, error) {
	d := &Driver{
		Domain:    domain,
		DNSServer: server,
		DNSPort:   port,
	}

	// Parse DNS types
	if types == "ANY" {
		types = "TXT,CNAME,MX"
	}

	for _, t := range strings.Split(types, ",") {
		t = strings.TrimSpace(strings.ToUpper(t))
		switch t {
		case "TXT", "TEXT":
			d.Types = append(d.Types, TypeTXT)
		case "MX":
			d.Types = append(d.Types, TypeMX)
		case "CNAME":
			d.Types = append(d.Types, TypeCNAME)
		case "NS":
			d.Types = append(d.Types, TypeNS)
		case "A":
			d.Types = append(d.Types, TypeA)
		case "AAAA":
			d.Types = append(d.Types, TypeAAAA)
		}
	}

	if len(d.Types) == 0 {
		return nil, fmt.Errorf("no valid DNS types specified")
	}

	// Create UDP socket
	laddr, err := net.ResolveUDPAddr("udp", host+":0")
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	d.conn = conn

	return d, nil
}

// MaxDNSCatLength returns the maximum payload length for DNS queries
func (d *Driver) MaxDNSCatLength() int {
	domainLen := len(d.Domain)
	if d.Domain == "" {
		domainLen = len(WildcardPrefix)
	}
	return (MaxDNSLength / 2) - domainLen - 1 - ((MaxDNSLength / MaxFieldLength) + 1)
}

// getType returns a random DNS type to use
func (d *Driver) getType() DNSType {
	return d.Types[rand.Intn(len(d.Types))]
}

// encodeDNSName encodes data as a DNS name, hex-encoded and chunked
// into labels no longer than MaxFieldLength.
func (d *Driver) encodeDNSName(data []byte) string {
	var result strings.Builder

	if d.Domain == "" {
		result.WriteString(WildcardPrefix)
		result.WriteByte('.')
	}

	encoded := encoding.EncodeHex(data)
	sectionLen := 0

	for i := 0; i < len(encoded); i++ {
		result.WriteByte(encoded[i])
		sectionLen++

		if i+1 != len(encoded) && sectionLen+1 >= MaxFieldLength {
			result.WriteByte('.')
			sectionLen = 0
		}
	}

	if d.Domain != "" {
		result.WriteByte('.')
		result.WriteString(d.Domain)
	}

	return result.String()
}

// decodeDNSResponse decodes DNS response data
func (d *Driver) decodeDNSResponse(response *DNSResponse) ([]byte, error) {
	if len(response.Answers) == 0 {
		return nil, fmt.Errorf("no answers in response")
	}

	answer := response.Answers[0]

	switch answer.Type {
	case TypeTXT:
		return encoding.DecodeHex(string(answer.Data))

	case TypeCNAME, TypeNS, TypeMX:
		name := d.removeDomain(string(answer.Data))
		if name == "" {
			return nil, fmt.Errorf("empty response after removing domain")
		}
		return encoding.DecodeHex(name)

	case TypeA:
		// A records - sort by first byte, extract payload
		sort.Slice(response.Answers, func(i, j int) bool {
			return response.Answers[i].Data[0] < response.Answers[j].Data[0]
		})

		var buf []byte
		for _, a := range response.Answers {
			if len(a.Data) >= 4 {
				buf = append(buf, a.Data[1:4]...)
			}
		}

		if len(buf) < 1 {
			return nil, fmt.Errorf("A record response too short")
		}

		length := int(buf[0])
		if length > len(buf)-1 {
			return nil, fmt.Errorf("A record length mismatch")
		}

		return buf[1 : length+1], nil

	case TypeAAAA:
		// AAAA records - similar to A but 15 bytes per record
		sort.Slice(response.Answers, func(i, j int) bool {
			return response.Answers[i].Data[0] < response.Answers[j].Data[0]
		})

		var buf []byte
		for _, a := range response.Answers {
			if len(a.Data) >= 16 {
				buf = append(buf, a.Data[1:16]...)
			}
		}

		if len(buf) < 1 {
			return nil, fmt.Errorf("AAAA record response too short")
		}

		length := int(buf[0])
		if length > len(buf)-1 {
			return nil, fmt.Errorf("AAAA record length mismatch")
		}

		return buf[1 : length+1], nil

	default:
		return nil, fmt.Errorf("unknown DNS type: %d", answer.Type)
	}
}

// removeDomain removes the domain suffix (or wildcard prefix) from a name.
func (d *Driver) removeDomain(name string) string {
	if d.Domain != "" {
		if !strings.HasSuffix(name, d.Domain) {
			return ""
		}
		if name == d.Domain {
			return ""
		}
		return strings.TrimSuffix(name, "."+d.Domain)
	}
	if !strings.HasPrefix(name, WildcardPrefix) {
		return ""
	}
	return strings.TrimPrefix(name, WildcardPrefix+".")
}

// doSend sends outgoing data
func (d *Driver) doSend() {
	data, hasActiveSessions := controller.GetOutgoing(d.MaxDNSCatLength())
	if !hasActiveSessions {
		logger.Info("no active sessions left, exiting")
		os.Exit(0)
	}

	if len(data) == 0 {
		return
	}

	name := d.encodeDNSName(data)
	dnsType := d.getType()

	query := BuildDNSQuery(name, dnsType)

	addr := fmt.Sprintf("%s:%d", d.DNSServer, d.DNSPort)
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		logger.Error("failed to resolve %s: %v", addr, err)
		return
	}

	if _, err := d.conn.WriteToUDP(query, raddr); err != nil {
		logger.Error("send error: %v", err)
	}
}

// Run starts the DNS driver main loop. It blocks the calling
// goroutine; callers that need to stop it close the driver's socket.
func (d *Driver) Run() {
	d.doSend()

	buf := make([]byte, 4096)

	for {
		d.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))

		n, _, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				controller.Heartbeat()
				d.doSend()
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Error("receive error: %v", err)
			continue
		}

		response, err := ParseDNSResponse(buf[:n])
		if err != nil {
			logger.Warn("parse error: %v", err)
			continue
		}

		if response.RCode != 0 {
			switch response.RCode {
			case 1:
				logger.Warn("RCODE_FORMAT_ERROR")
			case 2:
				logger.Warn("RCODE_SERVER_FAILURE")
			case 3:
				logger.Warn("RCODE_NAME_ERROR")
			case 4:
				logger.Warn("RCODE_NOT_IMPLEMENTED")
			case 5:
				logger.Warn("RCODE_REFUSED")
			default:
				logger.Warn("unknown error code (0x%04x)", response.RCode)
			}
			continue
		}

		if len(response.Answers) == 0 {
			logger.Debug("DNS didn't return an answer")
			continue
		}

		data, err := d.decodeDNSResponse(response)
		if err != nil {
			logger.Debug("decode error: %v", err)
			continue
		}

		if len(data) > 0 {
			if controller.DataIncoming(data) {
				d.doSend()
			}
		} else {
			// Empty response from server (just ACK, no data) - still call doSend for retransmit
			d.doSend()
		}
	}
}

// Close closes the driver
func (d *Driver) Close() {
	if d.conn != nil {
		d.conn.Close()
	}
}
