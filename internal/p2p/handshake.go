package p2p

import (
	"fmt"
	"time"

	"github.com/bastille-chain/bastille/internal/p2p/wire"
	"github.com/bastille-chain/bastille/pkg/types"
)

// Handshake errors.
var (
	ErrSelfConnection    = fmt.Errorf("peer announced this node's own listen address")
	ErrNetworkMismatch   = fmt.Errorf("peer network/magic does not match")
	ErrProtocolTooOld    = fmt.Errorf("peer protocol version too old")
	ErrUnexpectedMessage = fmt.Errorf("unexpected message during handshake")
)

// Identity carries the local node's handshake-relevant configuration:
// everything a peer needs to check compatibility and to guard against
// connecting to itself.
type Identity struct {
	Network    string
	Magic      []byte
	ListenIP   string
	ListenPort uint32
	Nonce      uint64 // random per-process value, doubles as a self-connection tripwire
	UserAgent  string
	HeightFn   func() (height uint64, tip types.Hash)
}

func (id Identity) versionMessage() *wire.Version {
	var height uint64
	if id.HeightFn != nil {
		height, _ = id.HeightFn()
	}
	return &wire.Version{
		Network:         id.Network,
		Magic:           id.Magic,
		ProtocolVersion: ProtocolVersion,
		Timestamp:       uint64(time.Now().Unix()),
		FromIP:          id.ListenIP,
		FromPort:        id.ListenPort,
		Nonce:           id.Nonce,
		UserAgent:       id.UserAgent,
		StartHeight:     height,
		Relay:           true,
	}
}

// validatePeerVersion checks network/magic compatibility, minimum
// protocol version, and self-connection (matching nonce, or a
// from_ip/from_port pair equal to our own listen address).
func (id Identity) validatePeerVersion(v *wire.Version) error {
	if v.Network != id.Network || string(v.Magic) != string(id.Magic) {
		return ErrNetworkMismatch
	}
	if v.ProtocolVersion < ProtocolVersion {
		return ErrProtocolTooOld
	}
	if v.Nonce == id.Nonce || (v.FromIP == id.ListenIP && v.FromPort == id.ListenPort) {
		return ErrSelfConnection
	}
	return nil
}

func (id Identity) heightMessage() *wire.Height {
	height, tip := uint64(0), types.Hash{}
	if id.HeightFn != nil {
		height, tip = id.HeightFn()
	}
	return &wire.Height{Height: height, TipHash: tip.Bytes()}
}

// DialAndHandshake dials addr and completes the handshake as the
// initiating side: send Version, receive the responder's Version and
// Verack, reply Verack, then exchange Height. The whole exchange must
// finish within handshakeTimeout or the connection is closed.
func DialAndHandshake(addr string, id Identity, maxFrameBytes int) (*Peer, error) {
	p, err := dial(addr, maxFrameBytes)
	if err != nil {
		return nil, err
	}

	if err := p.runHandshake(id, true); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// acceptHandshake completes the handshake as the responding side over
// an already-accepted connection: receive Version, validate, reply with
// our own Version and Verack, receive the initiator's Verack, then
// exchange Height.
func acceptHandshake(conn *Peer, id Identity) error {
	return conn.runHandshake(id, false)
}

// runHandshake drives either side of the Version/Verack/Height exchange.
// initiator controls message order: the dialer speaks first.
func (p *Peer) runHandshake(id Identity, initiator bool) error {
	if err := p.conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return err
	}
	defer p.conn.SetDeadline(time.Time{})

	p.setState(StateHandshaking)

	var peerVersion *wire.Version

	if initiator {
		if err := p.Send(&wire.Envelope{Version: id.versionMessage()}); err != nil {
			return fmt.Errorf("send version: %w", err)
		}

		v, err := p.expectVersion()
		if err != nil {
			return err
		}
		peerVersion = v
		if err := id.validatePeerVersion(peerVersion); err != nil {
			return err
		}

		if err := p.expectVerack(); err != nil {
			return err
		}
		if err := p.Send(&wire.Envelope{Verack: true}); err != nil {
			return fmt.Errorf("send verack: %w", err)
		}
	} else {
		v, err := p.expectVersion()
		if err != nil {
			return err
		}
		peerVersion = v
		if err := id.validatePeerVersion(peerVersion); err != nil {
			return err
		}

		if err := p.Send(&wire.Envelope{Version: id.versionMessage()}); err != nil {
			return fmt.Errorf("send version: %w", err)
		}
		if err := p.Send(&wire.Envelope{Verack: true}); err != nil {
			return fmt.Errorf("send verack: %w", err)
		}
		if err := p.expectVerack(); err != nil {
			return err
		}
	}

	if err := p.Send(&wire.Envelope{Height: id.heightMessage()}); err != nil {
		return fmt.Errorf("send height: %w", err)
	}
	peerHeight, err := p.expectHeight()
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.userAgent = peerVersion.UserAgent
	p.mu.Unlock()

	var tip types.Hash
	copy(tip[:], peerHeight.TipHash)
	if peerVersion.StartHeight > 0 && peerHeight.Height == 0 {
		p.setAnnounced(peerVersion.StartHeight, tip)
	} else {
		p.setAnnounced(peerHeight.Height, tip)
	}

	p.setState(StateConnected)
	p.mu.Lock()
	p.connectedAt = time.Now()
	p.mu.Unlock()
	return nil
}

func (p *Peer) expectVersion() (*wire.Version, error) {
	env, err := p.Receive()
	if err != nil {
		return nil, fmt.Errorf("receive version: %w", err)
	}
	if env.Version == nil {
		return nil, ErrUnexpectedMessage
	}
	return env.Version, nil
}

func (p *Peer) expectVerack() error {
	env, err := p.Receive()
	if err != nil {
		return fmt.Errorf("receive verack: %w", err)
	}
	if !env.Verack {
		return ErrUnexpectedMessage
	}
	return nil
}

func (p *Peer) expectHeight() (*wire.Height, error) {
	env, err := p.Receive()
	if err != nil {
		return nil, fmt.Errorf("receive height: %w", err)
	}
	if env.Height == nil {
		return nil, ErrUnexpectedMessage
	}
	return env.Height, nil
}
