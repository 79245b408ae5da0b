// Package session implements dnscat2 session management: the
// SYN/MSG/FIN/ENC state machine, sequence/ack tracking with
// mod-2^16 wraparound, and retransmission timing for one session.
package session

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"dnscat2/internal/logger"
	"dnscat2/internal/metrics"
	"dnscat2/pkg/crypto"
	"dnscat2/pkg/driver"
	"dnscat2/pkg/protocol"
)

// State represents session state
type State int

const (
	StateBeforeInit State = iota
	StateBeforeAuth
	StateNew
	StateEstablished
)

// String returns the string representation of session state
func (s State) String() string {
	switch s {
	case StateBeforeInit:
		return "BEFORE_INIT"
	case StateBeforeAuth:
		return "BEFORE_AUTH"
	case StateNew:
		return "NEW"
	case StateEstablished:
		return "ESTABLISHED"
	default:
		return "Unknown"
	}
}

// Global settings
var (
	PacketTrace           = false
	PacketDelay           = 1000 * time.Millisecond
	TransmitInstantOnData = true
	DoEncryption          = true
	PresharedSecret       = ""
)

// Metrics is the optional registry sessions report packet/byte counts
// to. It stays nil (all reporting calls become no-ops) unless
// cmd/dnscat was started with -metrics-addr.
var Metrics *metrics.Registry

func countPacketSent(n int) {
	if Metrics == nil {
		return
	}
	Metrics.PacketsSent.Inc()
	Metrics.BytesSent.Add(float64(n))
}

func countPacketReceived(n int) {
	if Metrics == nil {
		return
	}
	Metrics.PacketsReceived.Inc()
	Metrics.BytesReceived.Add(float64(n))
}

func countDropped() {
	if Metrics != nil {
		Metrics.PacketsDropped.Inc()
	}
}

func countRetransmit() {
	if Metrics != nil {
		Metrics.Retransmits.Inc()
	}
}

// Session represents a dnscat2 session
type Session struct {
	ID       uint16
	State    State
	TheirSeq uint16
	MySeq    uint16
	Name     string
	Options  protocol.Options

	IsCommand bool
	IsPing    bool

	Driver         driver.Driver
	OutgoingBuffer []byte // Sliding window buffer - data stays until ACKed

	Encryptor    *crypto.Encryptor
	NewEncryptor *crypto.Encryptor

	LastTransmit        time.Time
	MissedTransmissions int
	isShutdown          bool

	mu sync.Mutex
}

// New creates a new session
func New(name string) (*Session, error) {
	s := &Session{
		ID:             uint16(rand.Intn(0xFFFF)),
		MySeq:          uint16(rand.Intn(0xFFFF)),
		OutgoingBuffer: make([]byte, 0),
	}

	if DoEncryption {
		s.State = StateBeforeInit
		enc, err := crypto.NewEncryptor(PresharedSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		s.Encryptor = enc
	} else {
		s.State = StateNew
	}

	if name != "" {
		hostname, _ := os.Hostname()
		s.Name = fmt.Sprintf("%s (%s)", name, hostname)
	}

	return s, nil
}

// NewConsoleSession creates a session with console driver
func NewConsoleSession(name string) (*Session, error) {
	s, err := New(name)
	if err != nil {
		return nil, err
	}
	s.Driver = driver.NewConsoleDriver()
	return s, nil
}

// NewExecSession creates a session with exec driver
func NewExecSession(name, process string) (*Session, error) {
	s, err := New(name)
	if err != nil {
		return nil, err
	}
	d, err := driver.NewExecDriver(process)
	if err != nil {
		return nil, err
	}
	s.Driver = d
	return s, nil
}

// NewPingSession creates a session with ping driver
func NewPingSession(name string) (*Session, error) {
	s, err := New(name)
	if err != nil {
		return nil, err
	}
	s.Driver = driver.NewPingDriver()
	s.IsPing = true
	return s, nil
}

// shouldEncrypt returns true if we should encrypt
func (s *Session) shouldEncrypt() bool {
	return DoEncryption && s.State != StateBeforeInit
}

// canTransmitYet returns true if enough time has passed since last transmit
func (s *Session) canTransmitYet() bool {
	return time.Since(s.LastTransmit) > PacketDelay
}

// pollDriverForData reads data from driver into outgoing buffer
func (s *Session) pollDriverForData() {
	data := s.Driver.GetOutgoing(-1)

	if data == nil {
		// Driver is done
		if len(s.OutgoingBuffer) == 0 {
			s.Kill()
		}
	} else if len(data) > 0 {
		s.OutgoingBuffer = append(s.OutgoingBuffer, data...)
	}
}

func (s *Session) reportState() {
	if Metrics != nil {
		Metrics.Sessions.Track(s.ID, s.State.String(), s.MySeq, s.TheirSeq)
	}
}

// GetOutgoing returns the next packet to send, or nil if there is
// nothing to send yet.
func (s *Session) GetOutgoing(maxLength int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pollDriverForData()

	if !s.canTransmitYet() {
		return nil
	}

	// Reserve space for encryption header if needed
	if s.shouldEncrypt() {
		maxLength -= 8
		if maxLength <= 0 {
			logger.Error("not enough room in this protocol to encrypt packets (domain too long for -max-length)")
			countDropped()
			return nil
		}
	}

	var pkt *protocol.Packet

	if s.IsPing {
		// Handle ping specially - read WITHOUT consuming (data stays until ACKed)
		dataLen := min(len(s.OutgoingBuffer), maxLength-protocol.GetPINGSize())
		data := make([]byte, dataLen)
		copy(data, s.OutgoingBuffer[:dataLen])
		pkt = protocol.CreatePING(s.ID, string(data))
	} else {
		switch s.State {
		case StateBeforeInit:
			pkt = protocol.CreateENC(s.ID, 0)
			pkt.SetEncInit(s.Encryptor.GetMyPublicKey())

		case StateBeforeAuth:
			pkt = protocol.CreateENC(s.ID, 0)
			pkt.SetEncAuth(s.Encryptor.GetMyAuthenticator())

		case StateNew:
			pkt = protocol.CreateSYN(s.ID, s.MySeq, 0)
			if s.IsCommand {
				pkt.SetIsCommand()
			}
			if s.Name != "" {
				pkt.SetName(s.Name)
			}

		case StateEstablished:
			// Check if we need to renegotiate
			if s.shouldEncrypt() && s.Encryptor.ShouldRenegotiate() {
				if s.NewEncryptor != nil {
					logger.Info("waiting for the server to respond to our re-negotiation request")
					return nil
				}
				logger.Info("session is old, re-negotiating encryption keys")
				enc, err := crypto.NewEncryptor(PresharedSecret)
				if err != nil {
					logger.Error("failed to create new encryptor: %v", err)
					return nil
				}
				s.NewEncryptor = enc
				pkt = protocol.CreateENC(s.ID, 0)
				pkt.SetEncInit(s.NewEncryptor.GetMyPublicKey())
			} else {
				// Normal MSG packet - read WITHOUT consuming (data stays until ACKed)
				dataLen := min(len(s.OutgoingBuffer), maxLength-protocol.GetMSGSize(s.Options))
				data := make([]byte, dataLen)
				copy(data, s.OutgoingBuffer[:dataLen])

				if len(data) == 0 && s.isShutdown {
					pkt = protocol.CreateFIN(s.ID, "Stream closed")
				} else {
					pkt = protocol.CreateMSG(s.ID, s.MySeq, s.TheirSeq, data)
				}
			}
		}
	}

	if pkt == nil {
		return nil
	}

	if PacketTrace {
		logger.Debug("OUTGOING: %s", pkt.String())
	}

	packetBytes, err := pkt.ToBytes(s.Options)
	if err != nil {
		logger.Error("error serializing packet: %v", err)
		return nil
	}

	// Encrypt if needed
	if s.shouldEncrypt() {
		packetBytes = s.Encryptor.Encrypt(packetBytes)
		packetBytes = s.Encryptor.Sign(packetBytes)
	}

	if s.MissedTransmissions > 0 {
		countRetransmit()
	}

	s.LastTransmit = time.Now()
	s.MissedTransmissions++
	countPacketSent(len(packetBytes))
	s.reportState()

	return packetBytes
}

// DataIncoming processes incoming packet data. It returns true if a
// reply should be sent immediately rather than waiting for the next
// polling interval.
func (s *Session) DataIncoming(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pollDriverForData()

	packetData := make([]byte, len(data))
	copy(packetData, data)
	countPacketReceived(len(packetData))

	if PacketTrace {
		logger.Debug("RECV RAW (%d bytes): %x", len(packetData), packetData)
	}

	// Decrypt if needed
	if s.shouldEncrypt() {
		var ok bool
		packetData, ok = s.Encryptor.CheckSignature(packetData)
		if !ok {
			if PacketTrace {
				logger.Debug("signature check failed for %d bytes", len(data))
			}
			countDropped()
			return false
		}

		var err error
		packetData, _, err = s.Encryptor.Decrypt(packetData)
		if err != nil {
			if PacketTrace {
				logger.Debug("decryption error: %v", err)
			}
			countDropped()
			return false
		}

		if PacketTrace {
			logger.Debug("DECRYPTED (%d bytes): %x", len(packetData), packetData)
		}
	}

	pkt, err := protocol.Parse(packetData, s.Options)
	if err != nil {
		if PacketTrace {
			logger.Debug("parse error: %v (data len=%d, data=%x)", err, len(packetData), packetData)
		}
		countDropped()
		return false
	}

	if PacketTrace {
		logger.Debug("INCOMING: %s", pkt.String())
	}

	if s.IsPing && pkt.PacketType == protocol.PacketTypePING {
		s.Driver.DataReceived([]byte(pkt.PING.Data))
		return true
	}

	sendRightAway := false

	switch pkt.PacketType {
	case protocol.PacketTypeSYN:
		sendRightAway = s.handleSYN(pkt)
	case protocol.PacketTypeMSG:
		sendRightAway = s.handleMSG(pkt)
	case protocol.PacketTypeFIN:
		sendRightAway = s.handleFIN(pkt)
	case protocol.PacketTypeENC:
		sendRightAway = s.handleENC(pkt)
	default:
		logger.Warn("received illegal packet type: %s; dropping", pkt.PacketType)
		countDropped()
	}

	s.reportState()
	return sendRightAway
}

func (s *Session) handleSYN(pkt *protocol.Packet) bool {
	switch s.State {
	case StateNew:
		s.TheirSeq = pkt.SYN.Seq
		s.Options = pkt.SYN.Options
		s.MissedTransmissions = 0
		s.State = StateEstablished
		logger.Info("session established!")
		return true
	default:
		logger.Warn("received SYN in state %s; ignoring", s.State)
		countDropped()
		return false
	}
}

func (s *Session) handleMSG(pkt *protocol.Packet) bool {
	if s.State != StateEstablished {
		logger.Warn("received MSG in state %s; ignoring", s.State)
		countDropped()
		return false
	}

	sendRightAway := false

	if pkt.MSG.Seq == s.TheirSeq {
		// Calculate bytes acknowledged (with wraparound handling)
		bytesAcked := (pkt.MSG.Ack - s.MySeq) & 0xFFFF

		if int(bytesAcked) <= len(s.OutgoingBuffer) {
			s.MissedTransmissions = 0

			if bytesAcked > 0 && TransmitInstantOnData {
				s.LastTransmit = time.Time{}
				sendRightAway = true
			}

			// Update their sequence number
			s.TheirSeq = (s.TheirSeq + uint16(len(pkt.MSG.Data))) & 0xFFFF

			// Consume acknowledged data from the sliding window
			if bytesAcked > 0 {
				s.OutgoingBuffer = s.OutgoingBuffer[bytesAcked:]
				s.MySeq = (s.MySeq + bytesAcked) & 0xFFFF
			}

			// Pass data to driver
			if len(pkt.MSG.Data) > 0 {
				s.Driver.DataReceived(pkt.MSG.Data)
				s.LastTransmit = time.Time{} // Allow immediate response
			}
		} else {
			logger.Warn("bad ACK received (%d bytes acked; %d bytes in buffer)",
				bytesAcked, len(s.OutgoingBuffer))
			countDropped()
		}
	} else {
		logger.Warn("bad SEQ received (expected %d, received %d)",
			s.TheirSeq, pkt.MSG.Seq)
		countDropped()
	}

	return sendRightAway
}

func (s *Session) handleFIN(pkt *protocol.Packet) bool {
	if s.isShutdown {
		logger.Warn("received FIN on a session that's already shut down; ignoring")
		countDropped()
		return false
	}
	logger.Info("received FIN (reason: %q); closing session", pkt.FIN.Reason)
	s.LastTransmit = time.Time{}
	s.MissedTransmissions = 0
	s.Kill()
	return true
}

// handleENC drives the ENC handshake/re-negotiation state machine.
// Any violation here (wrong subtype, bad authenticator, unexpected
// state) kills only this session rather than the process: per
// spec.md §7, only startup configuration errors are fatal.
func (s *Session) handleENC(pkt *protocol.Packet) bool {
	switch s.State {
	case StateBeforeInit:
		if pkt.ENC.Subtype != protocol.EncSubtypeInit {
			logger.Error("received unexpected encryption packet subtype: 0x%04x", pkt.ENC.Subtype)
			s.Kill()
			return false
		}

		if err := s.Encryptor.SetTheirPublicKey(pkt.ENC.PublicKey[:]); err != nil {
			logger.Error("failed to calculate shared secret: %v", err)
			s.Kill()
			return false
		}

		s.Encryptor.Print()

		if PresharedSecret != "" {
			s.State = StateBeforeAuth
		} else {
			s.State = StateNew
			logger.Info("encrypted session established! for added security, please verify the server also displays this string:")
			fmt.Fprintln(os.Stderr, s.Encryptor.PrintSAS())
		}
		return true

	case StateBeforeAuth:
		if pkt.ENC.Subtype != protocol.EncSubtypeAuth {
			logger.Error("received unexpected encryption packet subtype: 0x%04x", pkt.ENC.Subtype)
			s.Kill()
			return false
		}

		if !bytes.Equal(pkt.ENC.Authenticator[:], s.Encryptor.GetTheirAuthenticator()) {
			logger.Error("their authenticator was wrong; something weird is happening on the network")
			s.Kill()
			return false
		}

		logger.Info("peer verified with pre-shared secret!")

		s.State = StateNew
		return true

	case StateEstablished:
		// Re-negotiation
		if s.NewEncryptor == nil {
			logger.Error("received unexpected renegotiation from the server")
			s.Kill()
			return false
		}

		if err := s.NewEncryptor.SetTheirPublicKey(pkt.ENC.PublicKey[:]); err != nil {
			logger.Error("failed to calculate shared secret for renegotiation: %v", err)
			s.Kill()
			return false
		}

		logger.Info("server responded to re-negotiation request; switching to new keys")
		s.Encryptor = s.NewEncryptor
		s.NewEncryptor = nil
		s.Encryptor.Print()
		return true

	default:
		logger.Error("received ENC packet in state %s", s.State)
		s.Kill()
		return false
	}
}

// Kill marks the session for shutdown.
func (s *Session) Kill() {
	if s.isShutdown {
		logger.Warn("tried to kill a session that's already dead: %d", s.ID)
		return
	}
	s.isShutdown = true
	s.Driver.Close()
	if Metrics != nil {
		Metrics.Sessions.Forget(s.ID)
	}
}

// IsShutdown returns true if session is shut down
func (s *Session) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isShutdown
}

// Destroy cleans up the session
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isShutdown {
		s.isShutdown = true
		s.Driver.Close()
		if Metrics != nil {
			Metrics.Sessions.Forget(s.ID)
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
