// Package protocol implements the dnscat2 protocol packet handling:
// parsing and serializing the SYN/MSG/FIN/ENC/PING packet types that
// flow between the client and a dnscat2 server, independent of the
// tunnel they travel over.
package protocol

import (
	"errors"
	"fmt"
	"math/rand"

	"dnscat2/pkg/buffer"
)

const (
	MaxPacketSize = 1024
)

// PacketType represents the type of dnscat packet
type PacketType uint8

const (
	PacketTypeSYN  PacketType = 0x00
	PacketTypeMSG  PacketType = 0x01
	PacketTypeFIN  PacketType = 0x02
	PacketTypeENC  PacketType = 0x03
	PacketTypePING PacketType = 0xFF
)

// String returns the string representation of packet type
func (t PacketType) String() string {
	switch t {
	case PacketTypeSYN:
		return "SYN"
	case PacketTypeMSG:
		return "MSG"
	case PacketTypeFIN:
		return "FIN"
	case PacketTypeENC:
		return "ENC"
	case PacketTypePING:
		return "PING"
	default:
		return "Unknown"
	}
}

// EncSubtype represents encryption packet subtype
type EncSubtype uint16

const (
	EncSubtypeInit EncSubtype = 0x00
	EncSubtypeAuth EncSubtype = 0x01
)

// Options for SYN packets
type Options uint16

const (
	OptName            Options = 0x0001
	OptDownload        Options = 0x0008
	OptChunkedDownload Options = 0x0010
	OptCommand         Options = 0x0020
)

// SYNPacket represents a SYN packet body
type SYNPacket struct {
	Seq     uint16
	Options Options
	Name    string
}

// MSGPacket represents a MSG packet body
type MSGPacket struct {
	Seq  uint16
	Ack  uint16
	Data []byte
}

// FINPacket represents a FIN packet body
type FINPacket struct {
	Reason string
}

// PINGPacket represents a PING packet body
type PINGPacket struct {
	Data string
}

// ENCPacket represents an encryption packet body
type ENCPacket struct {
	Subtype       EncSubtype
	Flags         uint16
	PublicKey     [64]byte
	Authenticator [32]byte
}

// Packet represents a dnscat2 protocol packet
type Packet struct {
	PacketID   uint16
	PacketType PacketType
	SessionID  uint16

	// Body - only one will be set based on PacketType
	SYN  *SYNPacket
	MSG  *MSGPacket
	FIN  *FINPacket
	PING *PINGPacket
	ENC  *ENCPacket
}

// Parse parses a packet from raw bytes.
func Parse(data []byte, options Options) (*Packet, error) {
	if len(data) < 5 {
		return nil, errors.New("packet too short")
	}
	if len(data) > MaxPacketSize {
		return nil, fmt.Errorf("packet too long: %d bytes", len(data))
	}

	buf := buffer.Wrap(data)
	p := &Packet{}

	packetID, err := buf.ReadUint16()
	if err != nil {
		return nil, err
	}
	p.PacketID = packetID

	typeByte, err := buf.ReadByte()
	if err != nil {
		return nil, err
	}
	p.PacketType = PacketType(typeByte)

	sessionID, err := buf.ReadUint16()
	if err != nil {
		return nil, err
	}
	p.SessionID = sessionID

	switch p.PacketType {
	case PacketTypeSYN:
		syn := &SYNPacket{}
		if syn.Seq, err = buf.ReadUint16(); err != nil {
			return nil, err
		}
		opts, err := buf.ReadUint16()
		if err != nil {
			return nil, err
		}
		syn.Options = Options(opts)

		if syn.Options&OptName != 0 {
			name, err := buf.ReadCString()
			if err != nil {
				return nil, err
			}
			syn.Name = name
		}
		p.SYN = syn

	case PacketTypeMSG:
		msg := &MSGPacket{}
		if msg.Seq, err = buf.ReadUint16(); err != nil {
			return nil, err
		}
		if msg.Ack, err = buf.ReadUint16(); err != nil {
			return nil, err
		}
		msg.Data = buf.ReadRest()
		p.MSG = msg

	case PacketTypeFIN:
		reason, err := buf.ReadCString()
		if err != nil {
			return nil, err
		}
		p.FIN = &FINPacket{Reason: reason}

	case PacketTypePING:
		data, err := buf.ReadCString()
		if err != nil {
			return nil, err
		}
		p.PING = &PINGPacket{Data: data}

	case PacketTypeENC:
		enc := &ENCPacket{}
		subtype, err := buf.ReadUint16()
		if err != nil {
			return nil, err
		}
		enc.Subtype = EncSubtype(subtype)
		if enc.Flags, err = buf.ReadUint16(); err != nil {
			return nil, err
		}

		switch enc.Subtype {
		case EncSubtypeInit:
			key, err := buf.ReadBytes(len(enc.PublicKey))
			if err != nil {
				return nil, err
			}
			copy(enc.PublicKey[:], key)
		case EncSubtypeAuth:
			auth, err := buf.ReadBytes(len(enc.Authenticator))
			if err != nil {
				return nil, err
			}
			copy(enc.Authenticator[:], auth)
		}
		p.ENC = enc

	default:
		return nil, fmt.Errorf("unknown message type: 0x%02x", p.PacketType)
	}

	return p, nil
}

// PeekSessionID extracts the session ID from raw packet data without
// fully parsing the packet, so a caller can route an unparseable or
// unrecognized packet before committing to Parse.
func PeekSessionID(data []byte) (uint16, error) {
	if len(data) < 5 {
		return 0, errors.New("packet too short")
	}
	return uint16(data[3])<<8 | uint16(data[4]), nil
}

// ToBytes serializes the packet to bytes.
func (p *Packet) ToBytes(options Options) ([]byte, error) {
	buf := buffer.New()

	buf.WriteUint16(p.PacketID)
	buf.WriteByte(uint8(p.PacketType))
	buf.WriteUint16(p.SessionID)

	switch p.PacketType {
	case PacketTypeSYN:
		if p.SYN == nil {
			return nil, errors.New("SYN packet body is nil")
		}
		buf.WriteUint16(p.SYN.Seq)
		buf.WriteUint16(uint16(p.SYN.Options))
		if p.SYN.Options&OptName != 0 {
			buf.WriteCString(p.SYN.Name)
		}

	case PacketTypeMSG:
		if p.MSG == nil {
			return nil, errors.New("MSG packet body is nil")
		}
		buf.WriteUint16(p.MSG.Seq)
		buf.WriteUint16(p.MSG.Ack)
		buf.WriteBytes(p.MSG.Data)

	case PacketTypeFIN:
		if p.FIN == nil {
			return nil, errors.New("FIN packet body is nil")
		}
		buf.WriteCString(p.FIN.Reason)

	case PacketTypePING:
		if p.PING == nil {
			return nil, errors.New("PING packet body is nil")
		}
		buf.WriteCString(p.PING.Data)

	case PacketTypeENC:
		if p.ENC == nil {
			return nil, errors.New("ENC packet body is nil")
		}
		buf.WriteUint16(uint16(p.ENC.Subtype))
		buf.WriteUint16(p.ENC.Flags)

		switch p.ENC.Subtype {
		case EncSubtypeInit:
			buf.WriteBytes(p.ENC.PublicKey[:])
		case EncSubtypeAuth:
			buf.WriteBytes(p.ENC.Authenticator[:])
		}

	default:
		return nil, fmt.Errorf("unknown message type: %d", p.PacketType)
	}

	return buf.Bytes(), nil
}

// Clone returns a deep copy of the packet, safe to mutate (e.g. to
// bump PacketID on retransmission) without aliasing the original's
// body or backing arrays.
func (p *Packet) Clone() *Packet {
	clone := &Packet{
		PacketID:   p.PacketID,
		PacketType: p.PacketType,
		SessionID:  p.SessionID,
	}
	if p.SYN != nil {
		syn := *p.SYN
		clone.SYN = &syn
	}
	if p.MSG != nil {
		msg := *p.MSG
		msg.Data = append([]byte(nil), p.MSG.Data...)
		clone.MSG = &msg
	}
	if p.FIN != nil {
		fin := *p.FIN
		clone.FIN = &fin
	}
	if p.PING != nil {
		ping := *p.PING
		clone.PING = &ping
	}
	if p.ENC != nil {
		enc := *p.ENC
		clone.ENC = &enc
	}
	return clone
}

// CreateSYN creates a new SYN packet
func CreateSYN(sessionID, seq uint16, options Options) *Packet {
	return &Packet{
		PacketID:   uint16(rand.Intn(0xFFFF)),
		PacketType: PacketTypeSYN,
		SessionID:  sessionID,
		SYN: &SYNPacket{
			Seq:     seq,
			Options: options,
		},
	}
}

// CreateMSG creates a new MSG packet
func CreateMSG(sessionID, seq, ack uint16, data []byte) *Packet {
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	return &Packet{
		PacketID:   uint16(rand.Intn(0xFFFF)),
		PacketType: PacketTypeMSG,
		SessionID:  sessionID,
		MSG: &MSGPacket{
			Seq:  seq,
			Ack:  ack,
			Data: dataCopy,
		},
	}
}

// CreateFIN creates a new FIN packet
func CreateFIN(sessionID uint16, reason string) *Packet {
	return &Packet{
		PacketID:   uint16(rand.Intn(0xFFFF)),
		PacketType: PacketTypeFIN,
		SessionID:  sessionID,
		FIN: &FINPacket{
			Reason: reason,
		},
	}
}

// CreatePING creates a new PING packet
func CreatePING(sessionID uint16, data string) *Packet {
	return &Packet{
		PacketID:   uint16(rand.Intn(0xFFFF)),
		PacketType: PacketTypePING,
		SessionID:  sessionID,
		PING: &PINGPacket{
			Data: data,
		},
	}
}

// CreateENC creates a new encryption packet
func CreateENC(sessionID uint16, flags uint16) *Packet {
	return &Packet{
		PacketID:   uint16(rand.Intn(0xFFFF)),
		PacketType: PacketTypeENC,
		SessionID:  sessionID,
		ENC: &ENCPacket{
			Flags: flags,
		},
	}
}

// SetName sets the name option on a SYN packet
func (p *Packet) SetName(name string) {
	if p.SYN != nil {
		p.SYN.Options |= OptName
		p.SYN.Name = name
	}
}

// SetIsCommand sets the command option on a SYN packet
func (p *Packet) SetIsCommand() {
	if p.SYN != nil {
		p.SYN.Options |= OptCommand
	}
}

// SetEncInit sets up the ENC packet for key init
func (p *Packet) SetEncInit(publicKey []byte) {
	if p.ENC != nil {
		p.ENC.Subtype = EncSubtypeInit
		copy(p.ENC.PublicKey[:], publicKey)
	}
}

// SetEncAuth sets up the ENC packet for authentication
func (p *Packet) SetEncAuth(authenticator []byte) {
	if p.ENC != nil {
		p.ENC.Subtype = EncSubtypeAuth
		copy(p.ENC.Authenticator[:], authenticator)
	}
}

// GetMSGSize returns the size of an empty MSG packet
func GetMSGSize(options Options) int {
	p := CreateMSG(0, 0, 0, nil)
	data, _ := p.ToBytes(options)
	return len(data)
}

// GetPINGSize returns the size of an empty PING packet
func GetPINGSize() int {
	p := CreatePING(0, "")
	data, _ := p.ToBytes(0)
	return len(data)
}

// String returns a string representation of the packet
func (p *Packet) String() string {
	switch p.PacketType {
	case PacketTypeSYN:
		return fmt.Sprintf("Type = SYN :: [0x%04x] session = 0x%04x, seq = 0x%04x, options = 0x%04x",
			p.PacketID, p.SessionID, p.SYN.Seq, p.SYN.Options)
	case PacketTypeMSG:
		return fmt.Sprintf("Type = MSG :: [0x%04x] session = 0x%04x, seq = 0x%04x, ack = 0x%04x, data = 0x%x bytes",
			p.PacketID, p.SessionID, p.MSG.Seq, p.MSG.Ack, len(p.MSG.Data))
	case PacketTypeFIN:
		return fmt.Sprintf("Type = FIN :: [0x%04x] session = 0x%04x :: %s",
			p.PacketID, p.SessionID, p.FIN.Reason)
	case PacketTypePING:
		return fmt.Sprintf("Type = PING :: [0x%04x] data = %s",
			p.PacketID, p.PING.Data)
	case PacketTypeENC:
		return fmt.Sprintf("Type = ENC :: [0x%04x] session = 0x%04x",
			p.PacketID, p.SessionID)
	default:
		return "Unknown packet type"
	}
}
