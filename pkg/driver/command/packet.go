// Package command implements the dnscat2 command protocol.
package command

import (
	"bytes"
	"errors"
	"fmt"

	"dnscat2/pkg/buffer"
)

// PacketType represents command packet types
type PacketType uint16

const (
	CommandPing     PacketType = 0x0000
	CommandShell    PacketType = 0x0001
	CommandExec     PacketType = 0x0002
	CommandDownload PacketType = 0x0003
	CommandUpload   PacketType = 0x0004
	CommandShutdown PacketType = 0x0005
	CommandDelay    PacketType = 0x0006

	TunnelConnect PacketType = 0x1000
	TunnelData    PacketType = 0x1001
	TunnelClose   PacketType = 0x1002

	CommandError PacketType = 0xFFFF
)

// TunnelStatus constants
const (
	TunnelStatusFail uint16 = 0x8000
)

// Packet represents a command protocol packet
type Packet struct {
	RequestID uint16
	CommandID PacketType
	IsRequest bool

	// Request bodies
	PingRequest           *PingRequest
	ShellRequest          *ShellRequest
	ExecRequest           *ExecRequest
	DownloadRequest       *DownloadRequest
	UploadRequest         *UploadRequest
	ShutdownRequest       *ShutdownRequest
	DelayRequest          *DelayRequest
	TunnelConnectRequest  *TunnelConnectRequest
	TunnelDataRequest     *TunnelDataRequest
	TunnelCloseRequest    *TunnelCloseRequest
	ErrorRequest          *ErrorRequest

	// Response bodies
	PingResponse           *PingResponse
	ShellResponse          *ShellResponse
	ExecResponse           *ExecResponse
	DownloadResponse       *DownloadResponse
	UploadResponse         *UploadResponse
	ShutdownResponse       *ShutdownResponse
	DelayResponse          *DelayResponse
	TunnelConnectResponse  *TunnelConnectResponse
	ErrorResponse          *ErrorResponse
}

// Request types
type PingRequest struct {
	Data string
}

type ShellRequest struct {
	Name string
}

type ExecRequest struct {
	Name    string
	Command string
}

type DownloadRequest struct {
	Filename string
}

type UploadRequest struct {
	Filename string
	Data     []byte
}

type ShutdownRequest struct{}

type DelayRequest struct {
	Delay uint32
}

type TunnelConnectRequest struct {
	Options uint32
	Host    string
	Port    uint16
}

type TunnelDataRequest struct {
	TunnelID uint32
	Data     []byte
}

type TunnelCloseRequest struct {
	TunnelID uint32
	Reason   string
}

type ErrorRequest struct {
	Status uint16
	Reason string
}

// Response types
type PingResponse struct {
	Data string
}

type ShellResponse struct {
	SessionID uint16
}

type ExecResponse struct {
	SessionID uint16
}

type DownloadResponse struct {
	Data []byte
}

type UploadResponse struct{}

type ShutdownResponse struct{}

type DelayResponse struct{}

type TunnelConnectResponse struct {
	Status   uint16
	TunnelID uint32
}

type ErrorResponse struct {
	Status uint16
	Reason string
}

// ReadPacket reads one length-prefixed command packet off a growing
// network stream. The stream itself stays a *bytes.Buffer, since it
// needs to accumulate across DataReceived calls and discard only what
// was consumed (buffer.Buffer's cursor never frees what's behind it);
// the framed packet payload is decoded field-by-field through
// pkg/buffer, same as every other wire structure in the tunnel.
func ReadPacket(buf *bytes.Buffer) (*Packet, error) {
	length, err := buffer.Wrap(buf.Bytes()).ReadUint32()
	if err != nil {
		return nil, nil // Not enough data yet
	}

	// Check for overflow
	if length+4 < length {
		return nil, errors.New("overflow in command packet")
	}

	// Check if we have enough data
	if uint32(buf.Len()) < length+4 {
		return nil, nil // Not enough data yet
	}

	// Consume length
	buf.Next(4)

	// Read packet data
	data := make([]byte, length)
	buf.Read(data)

	return parsePacket(data)
}

func parsePacket(data []byte) (*Packet, error) {
	buf := buffer.Wrap(data)
	p := &Packet{}

	packedID, err := buf.ReadUint16()
	if err != nil {
		return nil, errors.New("packet too short")
	}
	p.RequestID = packedID & 0x7FFF
	p.IsRequest = (packedID & 0x8000) == 0

	cmdID, err := buf.ReadUint16()
	if err != nil {
		return nil, errors.New("packet too short")
	}
	p.CommandID = PacketType(cmdID)

	switch p.CommandID {
	case CommandPing:
		if p.IsRequest {
			str, _ := buf.ReadCString()
			p.PingRequest = &PingRequest{Data: str}
		} else {
			str, _ := buf.ReadCString()
			p.PingResponse = &PingResponse{Data: str}
		}

	case CommandShell:
		if p.IsRequest {
			str, _ := buf.ReadCString()
			p.ShellRequest = &ShellRequest{Name: str}
		} else {
			sessionID, _ := buf.ReadUint16()
			p.ShellResponse = &ShellResponse{SessionID: sessionID}
		}

	case CommandExec:
		if p.IsRequest {
			name, _ := buf.ReadCString()
			command, _ := buf.ReadCString()
			p.ExecRequest = &ExecRequest{Name: name, Command: command}
		} else {
			sessionID, _ := buf.ReadUint16()
			p.ExecResponse = &ExecResponse{SessionID: sessionID}
		}

	case CommandDownload:
		if p.IsRequest {
			filename, _ := buf.ReadCString()
			p.DownloadRequest = &DownloadRequest{Filename: filename}
		} else {
			p.DownloadResponse = &DownloadResponse{Data: buf.ReadRest()}
		}

	case CommandUpload:
		if p.IsRequest {
			filename, _ := buf.ReadCString()
			p.UploadRequest = &UploadRequest{Filename: filename, Data: buf.ReadRest()}
		} else {
			p.UploadResponse = &UploadResponse{}
		}

	case CommandShutdown:
		if p.IsRequest {
			p.ShutdownRequest = &ShutdownRequest{}
		} else {
			p.ShutdownResponse = &ShutdownResponse{}
		}

	case CommandDelay:
		if p.IsRequest {
			delay, _ := buf.ReadUint32()
			p.DelayRequest = &DelayRequest{Delay: delay}
		} else {
			p.DelayResponse = &DelayResponse{}
		}

	case TunnelConnect:
		if p.IsRequest {
			options, _ := buf.ReadUint32()
			host, _ := buf.ReadCString()
			port, _ := buf.ReadUint16()
			p.TunnelConnectRequest = &TunnelConnectRequest{
				Options: options,
				Host:    host,
				Port:    port,
			}
		} else {
			tunnelID, _ := buf.ReadUint32()
			p.TunnelConnectResponse = &TunnelConnectResponse{TunnelID: tunnelID}
		}

	case TunnelData:
		if p.IsRequest {
			tunnelID, _ := buf.ReadUint32()
			p.TunnelDataRequest = &TunnelDataRequest{
				TunnelID: tunnelID,
				Data:     buf.ReadRest(),
			}
		}

	case TunnelClose:
		if p.IsRequest {
			tunnelID, _ := buf.ReadUint32()
			reason, _ := buf.ReadCString()
			p.TunnelCloseRequest = &TunnelCloseRequest{
				TunnelID: tunnelID,
				Reason:   reason,
			}
		}

	case CommandError:
		status, _ := buf.ReadUint16()
		reason, _ := buf.ReadCString()
		if p.IsRequest {
			p.ErrorRequest = &ErrorRequest{Status: status, Reason: reason}
		} else {
			p.ErrorResponse = &ErrorResponse{Status: status, Reason: reason}
		}

	default:
		return nil, fmt.Errorf("unknown command_id: 0x%04x", p.CommandID)
	}

	return p, nil
}

// ToBytes serializes the packet to bytes
func (p *Packet) ToBytes() []byte {
	buf := buffer.New()

	packedID := p.RequestID & 0x7FFF
	if !p.IsRequest {
		packedID |= 0x8000
	}
	buf.WriteUint16(packedID)
	buf.WriteUint16(uint16(p.CommandID))

	switch p.CommandID {
	case CommandPing:
		if p.IsRequest && p.PingRequest != nil {
			buf.WriteCString(p.PingRequest.Data)
		} else if !p.IsRequest && p.PingResponse != nil {
			buf.WriteCString(p.PingResponse.Data)
		}

	case CommandShell:
		if p.IsRequest && p.ShellRequest != nil {
			buf.WriteCString(p.ShellRequest.Name)
		} else if !p.IsRequest && p.ShellResponse != nil {
			buf.WriteUint16(p.ShellResponse.SessionID)
		}

	case CommandExec:
		if p.IsRequest && p.ExecRequest != nil {
			buf.WriteCString(p.ExecRequest.Name)
			buf.WriteCString(p.ExecRequest.Command)
		} else if !p.IsRequest && p.ExecResponse != nil {
			buf.WriteUint16(p.ExecResponse.SessionID)
		}

	case CommandDownload:
		if p.IsRequest && p.DownloadRequest != nil {
			buf.WriteCString(p.DownloadRequest.Filename)
		} else if !p.IsRequest && p.DownloadResponse != nil {
			buf.WriteBytes(p.DownloadResponse.Data)
		}

	case CommandUpload:
		if p.IsRequest && p.UploadRequest != nil {
			buf.WriteCString(p.UploadRequest.Filename)
			buf.WriteBytes(p.UploadRequest.Data)
		}

	case CommandShutdown:
		// No body

	case CommandDelay:
		if p.IsRequest && p.DelayRequest != nil {
			buf.WriteUint32(p.DelayRequest.Delay)
		}

	case TunnelConnect:
		if p.IsRequest && p.TunnelConnectRequest != nil {
			buf.WriteUint32(p.TunnelConnectRequest.Options)
			buf.WriteCString(p.TunnelConnectRequest.Host)
			buf.WriteUint16(p.TunnelConnectRequest.Port)
		} else if !p.IsRequest && p.TunnelConnectResponse != nil {
			buf.WriteUint32(p.TunnelConnectResponse.TunnelID)
		}

	case TunnelData:
		if p.IsRequest && p.TunnelDataRequest != nil {
			buf.WriteUint32(p.TunnelDataRequest.TunnelID)
			buf.WriteBytes(p.TunnelDataRequest.Data)
		}

	case TunnelClose:
		if p.IsRequest && p.TunnelCloseRequest != nil {
			buf.WriteUint32(p.TunnelCloseRequest.TunnelID)
			buf.WriteCString(p.TunnelCloseRequest.Reason)
		}

	case CommandError:
		if p.IsRequest && p.ErrorRequest != nil {
			buf.WriteUint16(p.ErrorRequest.Status)
			buf.WriteCString(p.ErrorRequest.Reason)
		} else if !p.IsRequest && p.ErrorResponse != nil {
			buf.WriteUint16(p.ErrorResponse.Status)
			buf.WriteCString(p.ErrorResponse.Reason)
		}
	}

	// Prepend length
	data := buf.Bytes()
	result := buffer.New()
	result.WriteUint32(uint32(len(data)))
	result.WriteBytes(data)

	return result.Bytes()
}

// Factory functions for creating response packets

func CreatePingResponse(requestID uint16, data string) *Packet {
	return &Packet{
		RequestID:    requestID,
		CommandID:    CommandPing,
		IsRequest:    false,
		PingResponse: &PingResponse{Data: data},
	}
}

func CreateShellResponse(requestID uint16, sessionID uint16) *Packet {
	return &Packet{
		RequestID:     requestID,
		CommandID:     CommandShell,
		IsRequest:     false,
		ShellResponse: &ShellResponse{SessionID: sessionID},
	}
}

func CreateExecResponse(requestID uint16, sessionID uint16) *Packet {
	return &Packet{
		RequestID:    requestID,
		CommandID:    CommandExec,
		IsRequest:    false,
		ExecResponse: &ExecResponse{SessionID: sessionID},
	}
}

func CreateDownloadResponse(requestID uint16, data []byte) *Packet {
	return &Packet{
		RequestID:        requestID,
		CommandID:        CommandDownload,
		IsRequest:        false,
		DownloadResponse: &DownloadResponse{Data: data},
	}
}

func CreateUploadResponse(requestID uint16) *Packet {
	return &Packet{
		RequestID:      requestID,
		CommandID:      CommandUpload,
		IsRequest:      false,
		UploadResponse: &UploadResponse{},
	}
}

func CreateShutdownResponse(requestID uint16) *Packet {
	return &Packet{
		RequestID:        requestID,
		CommandID:        CommandShutdown,
		IsRequest:        false,
		ShutdownResponse: &ShutdownResponse{},
	}
}

func CreateDelayResponse(requestID uint16) *Packet {
	return &Packet{
		RequestID:     requestID,
		CommandID:     CommandDelay,
		IsRequest:     false,
		DelayResponse: &DelayResponse{},
	}
}

func CreateTunnelConnectResponse(requestID uint16, tunnelID uint32) *Packet {
	return &Packet{
		RequestID: requestID,
		CommandID: TunnelConnect,
		IsRequest: false,
		TunnelConnectResponse: &TunnelConnectResponse{
			TunnelID: tunnelID,
		},
	}
}

func CreateTunnelDataRequest(requestID uint16, tunnelID uint32, data []byte) *Packet {
	return &Packet{
		RequestID: requestID,
		CommandID: TunnelData,
		IsRequest: true,
		TunnelDataRequest: &TunnelDataRequest{
			TunnelID: tunnelID,
			Data:     data,
		},
	}
}

func CreateTunnelCloseRequest(requestID uint16, tunnelID uint32, reason string) *Packet {
	return &Packet{
		RequestID: requestID,
		CommandID: TunnelClose,
		IsRequest: true,
		TunnelCloseRequest: &TunnelCloseRequest{
			TunnelID: tunnelID,
			Reason:   reason,
		},
	}
}

func CreateErrorResponse(requestID uint16, status uint16, reason string) *Packet {
	return &Packet{
		RequestID:     requestID,
		CommandID:     CommandError,
		IsRequest:     false,
		ErrorResponse: &ErrorResponse{Status: status, Reason: reason},
	}
}

// String returns a string representation
func (p *Packet) String() string {
	reqType := "request"
	if !p.IsRequest {
		reqType = "response"
	}

	switch p.CommandID {
	case CommandPing:
		if p.IsRequest {
			return fmt.Sprintf("COMMAND_PING [%s] :: request_id: 0x%04x :: data: %s",
				reqType, p.RequestID, p.PingRequest.Data)
		}
		return fmt.Sprintf("COMMAND_PING [%s] :: request_id: 0x%04x :: data: %s",
			reqType, p.RequestID, p.PingResponse.Data)

	case CommandShell:
		if p.IsRequest {
			return fmt.Sprintf("COMMAND_SHELL [%s] :: request_id: 0x%04x :: name: %s",
				reqType, p.RequestID, p.ShellRequest.Name)
		}
		return fmt.Sprintf("COMMAND_SHELL [%s] :: request_id: 0x%04x :: session_id: 0x%04x",
			reqType, p.RequestID, p.ShellResponse.SessionID)

	case CommandExec:
		if p.IsRequest {
			return fmt.Sprintf("COMMAND_EXEC [%s] :: request_id: 0x%04x :: name: %s :: command: %s",
				reqType, p.RequestID, p.ExecRequest.Name, p.ExecRequest.Command)
		}
		return fmt.Sprintf("COMMAND_EXEC [%s] :: request_id: 0x%04x :: session_id: 0x%04x",
			reqType, p.RequestID, p.ExecResponse.SessionID)

	case CommandDownload:
		if p.IsRequest {
			return fmt.Sprintf("COMMAND_DOWNLOAD [%s] :: request_id: 0x%04x :: filename: %s",
				reqType, p.RequestID, p.DownloadRequest.Filename)
		}
		return fmt.Sprintf("COMMAND_DOWNLOAD [%s] :: request_id: 0x%04x :: data: 0x%x bytes",
			reqType, p.RequestID, len(p.DownloadResponse.Data))

	case CommandUpload:
		if p.IsRequest {
			return fmt.Sprintf("COMMAND_UPLOAD [%s] :: request_id: 0x%04x :: filename: %s :: data: 0x%x bytes",
				reqType, p.RequestID, p.UploadRequest.Filename, len(p.UploadRequest.Data))
		}
		return fmt.Sprintf("COMMAND_UPLOAD [%s] :: request_id: 0x%04x", reqType, p.RequestID)

	case CommandShutdown:
		return fmt.Sprintf("COMMAND_SHUTDOWN [%s] :: request_id: 0x%04x", reqType, p.RequestID)

	case CommandDelay:
		if p.IsRequest {
			return fmt.Sprintf("COMMAND_DELAY [%s] :: request_id: 0x%04x :: delay: %d",
				reqType, p.RequestID, p.DelayRequest.Delay)
		}
		return fmt.Sprintf("COMMAND_DELAY [%s] :: request_id: 0x%04x", reqType, p.RequestID)

	case TunnelConnect:
		if p.IsRequest {
			return fmt.Sprintf("TUNNEL_CONNECT [%s] :: request_id: 0x%04x :: host: %s :: port: %d",
				reqType, p.RequestID, p.TunnelConnectRequest.Host, p.TunnelConnectRequest.Port)
		}
		return fmt.Sprintf("TUNNEL_CONNECT [%s] :: request_id: 0x%04x :: tunnel_id: %d",
			reqType, p.RequestID, p.TunnelConnectResponse.TunnelID)

	case TunnelData:
		if p.IsRequest {
			return fmt.Sprintf("TUNNEL_DATA [%s] :: request_id: 0x%04x :: tunnel_id: %d :: data: %d bytes",
				reqType, p.RequestID, p.TunnelDataRequest.TunnelID, len(p.TunnelDataRequest.Data))
		}
		return fmt.Sprintf("TUNNEL_DATA [%s] :: request_id: 0x%04x", reqType, p.RequestID)

	case TunnelClose:
		if p.IsRequest {
			return fmt.Sprintf("TUNNEL_CLOSE [%s] :: request_id: 0x%04x :: tunnel_id: %d :: reason: %s",
				reqType, p.RequestID, p.TunnelCloseRequest.TunnelID, p.TunnelCloseRequest.Reason)
		}
		return fmt.Sprintf("TUNNEL_CLOSE [%s] :: request_id: 0x%04x", reqType, p.RequestID)

	case CommandError:
		if p.IsRequest {
			return fmt.Sprintf("COMMAND_ERROR [%s] :: request_id: 0x%04x :: status: 0x%04x :: reason: %s",
				reqType, p.RequestID, p.ErrorRequest.Status, p.ErrorRequest.Reason)
		}
		return fmt.Sprintf("COMMAND_ERROR [%s] :: request_id: 0x%04x :: status: 0x%04x :: reason: %s",
			reqType, p.RequestID, p.ErrorResponse.Status, p.ErrorResponse.Reason)

	default:
		return fmt.Sprintf("Unknown command: 0x%04x", p.CommandID)
	}
}


