package p2p

import (
	"net"
	"testing"
	"time"

	"github.com/bastille-chain/bastille/pkg/types"
)

func testIdentity(network string, nonce uint64, listenPort uint32) Identity {
	return Identity{
		Network:    network,
		Magic:      []byte{0xb4, 0x57},
		ListenIP:   "127.0.0.1",
		ListenPort: listenPort,
		Nonce:      nonce,
		UserAgent:  "bastilled-test/0.1",
		HeightFn:   func() (uint64, types.Hash) { return 5, types.Hash{0x09} },
	}
}

func TestIdentity_ValidatePeerVersion_Success(t *testing.T) {
	id := testIdentity("bastille-testnet", 1, 1000)
	peer := id.versionMessage()
	peer.Nonce = 3
	peer.FromPort = 3000

	other := testIdentity("bastille-testnet", 2, 2000)
	if err := other.validatePeerVersion(peer); err != nil {
		t.Errorf("expected success, got %v", err)
	}
}

func TestIdentity_ValidatePeerVersion_NetworkMismatch(t *testing.T) {
	id := testIdentity("bastille-mainnet", 1, 1000)
	v := id.versionMessage()

	other := testIdentity("bastille-testnet", 2, 2000)
	if err := other.validatePeerVersion(v); err != ErrNetworkMismatch {
		t.Errorf("expected ErrNetworkMismatch, got %v", err)
	}
}

func TestIdentity_ValidatePeerVersion_ProtocolTooOld(t *testing.T) {
	id := testIdentity("bastille-testnet", 1, 1000)
	v := id.versionMessage()
	v.ProtocolVersion = 0

	other := testIdentity("bastille-testnet", 2, 2000)
	if err := other.validatePeerVersion(v); err != ErrProtocolTooOld {
		t.Errorf("expected ErrProtocolTooOld, got %v", err)
	}
}

func TestIdentity_ValidatePeerVersion_SelfConnection_SameNonce(t *testing.T) {
	id := testIdentity("bastille-testnet", 1, 1000)
	v := id.versionMessage()

	// Same nonce as the validating identity: a loop back to ourselves.
	if err := id.validatePeerVersion(v); err != ErrSelfConnection {
		t.Errorf("expected ErrSelfConnection, got %v", err)
	}
}

func TestIdentity_ValidatePeerVersion_SelfConnection_SameAddr(t *testing.T) {
	id := testIdentity("bastille-testnet", 1, 1000)
	v := id.versionMessage()
	v.Nonce = 999 // different nonce, but same advertised listen address

	if err := id.validatePeerVersion(v); err != ErrSelfConnection {
		t.Errorf("expected ErrSelfConnection, got %v", err)
	}
}

func TestHandshake_TwoPeers_Success(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverID := testIdentity("bastille-testnet", 1, 1000)
	clientID := testIdentity("bastille-testnet", 2, 2000)

	serverErr := make(chan error, 1)
	serverPeer := make(chan *Peer, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverErr <- err
			return
		}
		p := newPeer(conn, conn.RemoteAddr().String(), true, 0)
		if err := acceptHandshake(p, serverID); err != nil {
			serverErr <- err
			return
		}
		serverPeer <- p
		serverErr <- nil
	}()

	clientPeer, err := DialAndHandshake(ln.Addr().String(), clientID, 0)
	if err != nil {
		t.Fatalf("DialAndHandshake: %v", err)
	}
	defer clientPeer.Close()

	select {
	case err := <-serverErr:
		if err != nil {
			t.Fatalf("acceptHandshake: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for server handshake")
	}

	sp := <-serverPeer
	defer sp.Close()

	if clientPeer.State() != StateConnected {
		t.Errorf("client state: got %v, want connected", clientPeer.State())
	}
	if sp.State() != StateConnected {
		t.Errorf("server state: got %v, want connected", sp.State())
	}
	if clientPeer.Height() != 5 {
		t.Errorf("client-observed peer height: got %d, want 5", clientPeer.Height())
	}
	if sp.Height() != 5 {
		t.Errorf("server-observed peer height: got %d, want 5", sp.Height())
	}
}

func TestHandshake_NetworkMismatch_Rejected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverID := testIdentity("bastille-mainnet", 1, 1000)
	clientID := testIdentity("bastille-testnet", 2, 2000)

	serverErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverErr <- err
			return
		}
		p := newPeer(conn, conn.RemoteAddr().String(), true, 0)
		err = acceptHandshake(p, serverID)
		p.Close()
		serverErr <- err
	}()

	// The responder validates the dialer's Version first and closes the
	// connection without answering, so the dialer only sees a read error.
	if _, err := DialAndHandshake(ln.Addr().String(), clientID, 0); err == nil {
		t.Error("expected the dialer's handshake to fail")
	}
	if err := <-serverErr; err != ErrNetworkMismatch {
		t.Errorf("expected ErrNetworkMismatch, got %v", err)
	}
}
