package command

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func drainResponse(t *testing.T, d *Driver) *Packet {
	t.Helper()
	var collected []byte
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		collected = append(collected, d.GetOutgoing(0)...)
		stream := bytes.NewBuffer(collected)
		pkt, err := ReadPacket(stream)
		if err != nil {
			t.Fatalf("ReadPacket: %v", err)
		}
		if pkt != nil {
			return pkt
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for a response packet")
	return nil
}

func TestDriverHandlesPingRequest(t *testing.T) {
	d := NewDriver()

	req := &Packet{RequestID: 1, CommandID: CommandPing, IsRequest: true, PingRequest: &PingRequest{Data: "ping!"}}
	d.DataReceived(req.ToBytes())

	resp := drainResponse(t, d)
	if resp.IsRequest || resp.CommandID != CommandPing {
		t.Fatalf("unexpected response packet: %+v", resp)
	}
	if resp.PingResponse.Data != "ping!" {
		t.Fatalf("expected ping echo, got %q", resp.PingResponse.Data)
	}
}

func TestDriverHandleShellWithoutSessionCreatorReturnsError(t *testing.T) {
	d := NewDriver()

	req := &Packet{RequestID: 2, CommandID: CommandShell, IsRequest: true, ShellRequest: &ShellRequest{Name: "sh"}}
	d.DataReceived(req.ToBytes())

	resp := drainResponse(t, d)
	if resp.CommandID != CommandError {
		t.Fatalf("expected an error response, got %+v", resp)
	}
}

func TestDriverHandleShellCreatesSession(t *testing.T) {
	d := NewDriver()
	var gotName, gotCommand string
	d.CreateSession = func(name, command string) uint16 {
		gotName, gotCommand = name, command
		return 99
	}

	req := &Packet{RequestID: 3, CommandID: CommandShell, IsRequest: true, ShellRequest: &ShellRequest{Name: "sh"}}
	d.DataReceived(req.ToBytes())

	resp := drainResponse(t, d)
	if resp.CommandID != CommandShell || resp.ShellResponse.SessionID != 99 {
		t.Fatalf("unexpected shell response: %+v", resp)
	}
	if gotName == "" || gotCommand == "" {
		t.Fatalf("expected CreateSession to be invoked with a shell command")
	}
}

func TestDriverHandleShutdownInvokesCallback(t *testing.T) {
	d := NewDriver()
	called := false
	d.OnShutdown = func() { called = true }

	req := &Packet{RequestID: 4, CommandID: CommandShutdown, IsRequest: true, ShutdownRequest: &ShutdownRequest{}}
	d.DataReceived(req.ToBytes())

	drainResponse(t, d)
	if !called {
		t.Fatalf("expected OnShutdown callback to run")
	}
}

func TestDriverTunnelConnectDataClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- nil
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		serverDone <- buf[:n]
	}()

	d := NewDriver()
	addr := ln.Addr().(*net.TCPAddr)

	connectReq := &Packet{
		RequestID: 5,
		CommandID: TunnelConnect,
		IsRequest: true,
		TunnelConnectRequest: &TunnelConnectRequest{
			Host: addr.IP.String(),
			Port: uint16(addr.Port),
		},
	}
	d.DataReceived(connectReq.ToBytes())

	connResp := drainResponse(t, d)
	if connResp.CommandID != TunnelConnect || connResp.IsRequest {
		t.Fatalf("expected a tunnel connect response, got %+v", connResp)
	}
	tunnelID := connResp.TunnelConnectResponse.TunnelID

	dataReq := CreateTunnelDataRequest(0, tunnelID, []byte("hi there"))
	d.DataReceived(dataReq.ToBytes())

	select {
	case got := <-serverDone:
		if string(got) != "hi there" {
			t.Fatalf("server received unexpected data: %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for tunneled data to reach the server")
	}

	d.Close()
	if !d.IsClosed() {
		t.Fatalf("expected driver to be closed")
	}
}
