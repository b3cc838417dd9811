package transport

import (
	"net"
	"testing"
	"time"

	"github.com/deflectio/pixelstream/wire"
)

func dialPair(t *testing.T) (client, server *Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverCh := make(chan *Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		sc, err := Accept(nc)
		if err != nil {
			errCh <- err
			return
		}
		serverCh <- sc
	}()

	c, err := Dial(ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	select {
	case s := <-serverCh:
		return c, s
	case err := <-errCh:
		t.Fatalf("Accept: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server side of handshake")
	}
	return nil, nil
}

func TestHandshakeAndRoundTrip(t *testing.T) {
	client, server := dialPair(t)
	defer client.Close()
	defer server.Close()

	hdr := wire.NewHeader(wire.MessageStreamOpen, 5, "wall-1")
	body := []byte("hello")

	if err := client.Send(hdr, body); err != nil {
		t.Fatalf("Send: %v", err)
	}

	gotHdr, gotBody, err := server.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if gotHdr != hdr {
		t.Errorf("header = %+v, want %+v", gotHdr, hdr)
	}
	if string(gotBody) != string(body) {
		t.Errorf("body = %q, want %q", gotBody, body)
	}
}

func TestReceiveQuitClosesConn(t *testing.T) {
	client, server := dialPair(t)
	defer client.Close()
	defer server.Close()

	if err := client.Send(wire.NewHeader(wire.MessageQuit, 0, ""), nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	hdr, _, err := server.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if hdr.Type != wire.MessageQuit {
		t.Errorf("Type = %v, want MessageQuit", hdr.Type)
	}
	if _, _, err := server.Receive(); err == nil {
		t.Error("Receive after quit succeeded, want an error from the closed connection")
	}
}

func TestHasMessage(t *testing.T) {
	client, server := dialPair(t)
	defer client.Close()
	defer server.Close()

	if server.HasMessage(0) {
		t.Fatal("HasMessage() = true before anything was sent")
	}

	if err := client.Send(wire.NewHeader(wire.MessageFinishFrame, 0, ""), nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for !server.HasMessage(0) {
		if time.Now().After(deadline) {
			t.Fatal("HasMessage() never became true")
		}
		time.Sleep(time.Millisecond)
	}
}
