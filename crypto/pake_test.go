package crypto

import "testing"

func TestPakeHandshakeAgreement(t *testing.T) {
	host, err := StartHost("ABC-123")
	if err != nil {
		t.Fatalf("StartHost: %v", err)
	}
	client, err := StartClient("abc-123") // case/dash-insensitive
	if err != nil {
		t.Fatalf("StartClient: %v", err)
	}

	if len(host.OutboundMessage()) != PakeMessageSize {
		t.Fatalf("host message is %d bytes, want %d", len(host.OutboundMessage()), PakeMessageSize)
	}

	hostKey, err := host.Finish(client.OutboundMessage())
	if err != nil {
		t.Fatalf("host.Finish: %v", err)
	}
	clientKey, err := client.Finish(host.OutboundMessage())
	if err != nil {
		t.Fatalf("client.Finish: %v", err)
	}

	if hostKey != clientKey {
		t.Fatalf("host and client derived different keys: %x != %x", hostKey, clientKey)
	}
}

func TestPakeHandshakeMismatchedCodesDiverge(t *testing.T) {
	host, _ := StartHost("ABC-123")
	client, _ := StartClient("ZZZ-999")

	hostKey, err := host.Finish(client.OutboundMessage())
	if err != nil {
		t.Fatalf("host.Finish: %v", err)
	}
	clientKey, err := client.Finish(host.OutboundMessage())
	if err != nil {
		t.Fatalf("client.Finish: %v", err)
	}

	if hostKey == clientKey {
		t.Fatal("handshake with different join codes produced matching keys")
	}
}

func TestPakeHandshakeRejectsShortMessage(t *testing.T) {
	host, _ := StartHost("ABC-123")
	if _, err := host.Finish([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error finishing with a short peer message")
	}
}

func TestPakeHandshakeRejectsDoubleFinish(t *testing.T) {
	host, _ := StartHost("ABC-123")
	client, _ := StartClient("ABC-123")
	if _, err := host.Finish(client.OutboundMessage()); err != nil {
		t.Fatalf("first Finish: %v", err)
	}
	if _, err := host.Finish(client.OutboundMessage()); err == nil {
		t.Fatal("expected error on second Finish call")
	}
}
