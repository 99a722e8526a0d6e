package handshake

import (
	"testing"

	"github.com/llp-project/llp/internal/wire"
)

func runFullHandshake(t *testing.T) (*Client, *Server) {
	t.Helper()

	client, err := NewClient(wire.ProfileVkVideo)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	server, err := NewServer(42)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	clientHelloBytes, err := client.Start()
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	serverHelloBytes, profile, err := server.ProcessClientHello(clientHelloBytes)
	if err != nil {
		t.Fatalf("ProcessClientHello() error = %v", err)
	}
	if profile != wire.ProfileVkVideo {
		t.Fatalf("server observed profile %v, want VkVideo", profile)
	}

	sessionID, err := client.ProcessServerHello(serverHelloBytes)
	if err != nil {
		t.Fatalf("ProcessServerHello() error = %v", err)
	}
	if sessionID != 42 {
		t.Fatalf("client observed session id %d, want 42", sessionID)
	}

	clientVerifyBytes, err := client.SendClientVerify()
	if err != nil {
		t.Fatalf("SendClientVerify() error = %v", err)
	}

	if err := server.ProcessClientVerify(clientVerifyBytes); err != nil {
		t.Fatalf("ProcessClientVerify() error = %v", err)
	}

	serverVerifyBytes, err := server.SendServerVerify()
	if err != nil {
		t.Fatalf("SendServerVerify() error = %v", err)
	}

	if err := client.ProcessServerVerify(serverVerifyBytes); err != nil {
		t.Fatalf("ProcessServerVerify() error = %v", err)
	}

	return client, server
}

func TestFullHandshakeKeysAgree(t *testing.T) {
	client, server := runFullHandshake(t)

	if !client.IsCompleted() {
		t.Error("client did not reach Completed")
	}
	if !server.IsCompleted() {
		t.Error("server did not reach Completed")
	}

	clientKey, ok := client.SessionKey()
	if !ok {
		t.Fatal("client SessionKey() not available after Completed")
	}
	serverKey, ok := server.SessionKey()
	if !ok {
		t.Fatal("server SessionKey() not available after Completed")
	}
	if clientKey != serverKey {
		t.Error("client and server derived different session keys")
	}
}

func TestSessionKeyUnavailableBeforeCompleted(t *testing.T) {
	client, err := NewClient(wire.ProfileNone)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := client.SessionKey(); ok {
		t.Error("SessionKey() should not be available before Start()")
	}

	if _, err := client.Start(); err != nil {
		t.Fatal(err)
	}
	if _, ok := client.SessionKey(); ok {
		t.Error("SessionKey() should not be available from HelloSent")
	}
}

func TestServerRejectsClientVerifyBeforeClientHello(t *testing.T) {
	server, err := NewServer(1)
	if err != nil {
		t.Fatal(err)
	}
	msg := ClientVerify{}
	if err := server.ProcessClientVerify(msg.Serialize()); err == nil {
		t.Error("expected InvalidState error")
	}
}

func TestClientRejectsOutOfOrderMessages(t *testing.T) {
	client, err := NewClient(wire.ProfileNone)
	if err != nil {
		t.Fatal(err)
	}
	// ProcessServerHello before Start.
	sh := ServerHello{SessionID: 1}
	if _, err := client.ProcessServerHello(sh.Serialize()); err == nil {
		t.Error("expected InvalidState error for out-of-order ProcessServerHello")
	}
}

func TestHandshakeTranscriptTamperDetected(t *testing.T) {
	client, err := NewClient(wire.ProfileYandexMusic)
	if err != nil {
		t.Fatal(err)
	}
	server, err := NewServer(7)
	if err != nil {
		t.Fatal(err)
	}

	clientHelloBytes, err := client.Start()
	if err != nil {
		t.Fatal(err)
	}

	// Tamper with a ClientHello byte (inside the client_random field) before
	// the server ever sees it.
	tampered := append([]byte{}, clientHelloBytes...)
	tampered[40] ^= 0xFF

	serverHelloBytes, _, err := server.ProcessClientHello(tampered)
	if err != nil {
		t.Fatalf("ProcessClientHello() error = %v", err)
	}

	// Client derives its session key from its own (untampered) ClientHello,
	// so its transcript will differ from the server's.
	if _, err := client.ProcessServerHello(serverHelloBytes); err != nil {
		t.Fatalf("ProcessServerHello() error = %v", err)
	}
	clientVerifyBytes, err := client.SendClientVerify()
	if err != nil {
		t.Fatal(err)
	}

	if err := server.ProcessClientVerify(clientVerifyBytes); err == nil {
		t.Error("expected VerificationFailed due to tampered transcript")
	}
}

func TestDecodeRejectsWrongMessageType(t *testing.T) {
	sh := ServerHello{SessionID: 9}
	if _, err := DecodeClientHello(sh.Serialize()); err == nil {
		t.Error("expected error decoding ServerHello bytes as ClientHello")
	}
}

func TestDecodeRejectsOversizedMessage(t *testing.T) {
	huge := make([]byte, MaxHelloSize+1)
	huge[0] = TypeClientHello
	if _, err := DecodeClientHello(huge); err == nil {
		t.Error("expected ErrInvalidMessageSize for oversized ClientHello")
	}
}
