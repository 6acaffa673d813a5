// Package p2p implements Bastille's gossip peer-to-peer network: raw TCP
// connections framed as length-prefixed protobuf envelopes (see the wire
// subpackage), a Version/Verack handshake, and headers-first block sync.
package p2p

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/bastille-chain/bastille/internal/log"
	"github.com/bastille-chain/bastille/internal/p2p/wire"
	"github.com/bastille-chain/bastille/pkg/types"
)

// State is a peer connection's position in its lifecycle.
type State int

const (
	StateConnecting State = iota
	StateHandshaking
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

const (
	// dialTimeout bounds the initial TCP connect.
	dialTimeout = 5 * time.Second
	// handshakeTimeout bounds the full Version/Verack/Height exchange.
	handshakeTimeout = 10 * time.Second
	// pingInterval is how often a Connected peer is pinged.
	pingInterval = 30 * time.Second
	// pongTimeout is how long a Ping may go unanswered before eviction.
	pongTimeout = 60 * time.Second
	// frameLengthBytes is the size of the big-endian length prefix.
	frameLengthBytes = 4
)

// ProtocolVersion is the node's wire protocol version, sent in every
// handshake. Peers advertising a lower version are rejected.
const ProtocolVersion = 1

// Peer owns one TCP connection to a remote node: frame I/O, handshake
// state, and keepalive bookkeeping. It knows nothing about block or
// transaction semantics; Node dispatches decoded envelopes.
type Peer struct {
	conn    net.Conn
	reader  *bufio.Reader
	addr    string // remote "ip:port"
	inbound bool

	maxFrameBytes int

	writeMu sync.Mutex

	mu          sync.Mutex
	state       State
	height      uint64
	tipHash     types.Hash
	userAgent   string
	connectedAt time.Time

	pingMu     sync.Mutex
	pingNonce  uint32
	pingSentAt time.Time
	awaitingPong bool
	lastPong   time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

// newPeer wraps an already-dialed or already-accepted connection.
func newPeer(conn net.Conn, addr string, inbound bool, maxFrameBytes int) *Peer {
	if maxFrameBytes <= 0 {
		maxFrameBytes = 2 * 1024 * 1024
	}
	return &Peer{
		conn:          conn,
		reader:        bufio.NewReader(conn),
		addr:          addr,
		inbound:       inbound,
		maxFrameBytes: maxFrameBytes,
		state:         StateConnecting,
		closed:        make(chan struct{}),
	}
}

// dial opens a TCP connection to addr and wraps it as an outbound peer.
func dial(addr string, maxFrameBytes int) (*Peer, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return newPeer(conn, addr, false, maxFrameBytes), nil
}

// Addr returns the peer's remote "ip:port".
func (p *Peer) Addr() string { return p.addr }

// Inbound reports whether the remote side initiated the connection.
func (p *Peer) Inbound() bool { return p.inbound }

// State returns the peer's current lifecycle state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Height returns the peer's last-announced chain height.
func (p *Peer) Height() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.height
}

// TipHash returns the peer's last-announced tip hash.
func (p *Peer) TipHash() types.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tipHash
}

// setAnnounced records a peer's self-reported height and tip, learned
// either from its handshake Version or a later Height message.
func (p *Peer) setAnnounced(height uint64, tip types.Hash) {
	p.mu.Lock()
	p.height = height
	p.tipHash = tip
	p.mu.Unlock()
}

// Send frames env and writes it to the connection. Writes are serialized
// so the handshake, keepalive, and dispatch goroutines never interleave
// partial frames.
func (p *Peer) Send(env *wire.Envelope) error {
	payload := wire.Encode(env)
	if len(payload) > p.maxFrameBytes {
		return fmt.Errorf("outgoing frame of %d bytes exceeds max %d", len(payload), p.maxFrameBytes)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	var lenBuf [frameLengthBytes]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := p.conn.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := p.conn.Write(payload); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// Receive blocks for the next frame and decodes it. A frame whose
// declared length exceeds maxFrameBytes, or whose body fails to decode
// as a known envelope variant, is treated as a protocol violation: the
// caller should close the connection.
func (p *Peer) Receive() (*wire.Envelope, error) {
	var lenBuf [frameLengthBytes]byte
	if _, err := io.ReadFull(p.reader, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if int(length) > p.maxFrameBytes {
		return nil, fmt.Errorf("frame of %d bytes exceeds max %d", length, p.maxFrameBytes)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(p.reader, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}

	env, err := wire.Decode(body)
	if err != nil {
		return nil, err
	}
	return env, nil
}

// Close closes the underlying connection. Safe to call more than once
// and from more than one goroutine.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.setState(StateDisconnected)
	})
	return p.conn.Close()
}

// Done returns a channel closed once the peer has been torn down.
func (p *Peer) Done() <-chan struct{} {
	return p.closed
}

// startKeepalive runs the 30s Ping / 60s-timeout Pong loop until the
// peer closes. It calls onTimeout exactly once if the peer stops
// answering pings.
func (p *Peer) startKeepalive(onTimeout func()) {
	ticker := time.NewTicker(pingInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-p.closed:
				return
			case <-ticker.C:
				p.pingMu.Lock()
				if p.awaitingPong && time.Since(p.pingSentAt) > pongTimeout {
					p.pingMu.Unlock()
					log.P2P.Warn().Str("peer", p.addr).Msg("peer missed pong deadline, evicting")
					onTimeout()
					return
				}
				nonce := rand.Uint32()
				p.pingNonce = nonce
				p.pingSentAt = time.Now()
				p.awaitingPong = true
				p.pingMu.Unlock()

				if err := p.Send(&wire.Envelope{Ping: &wire.Ping{Nonce: nonce}}); err != nil {
					log.P2P.Debug().Err(err).Str("peer", p.addr).Msg("ping send failed")
				}
			}
		}
	}()
}

// handlePong clears the outstanding ping if nonce matches. Envelopes
// carrying a stale or unknown nonce are ignored rather than treated as
// a protocol violation, since a ping in flight when a new one is sent
// can race harmlessly.
func (p *Peer) handlePong(nonce uint32) {
	p.pingMu.Lock()
	defer p.pingMu.Unlock()
	if p.awaitingPong && p.pingNonce == nonce {
		p.awaitingPong = false
		p.lastPong = time.Now()
	}
}

// handlePing answers a received ping with the same nonce.
func (p *Peer) handlePing(nonce uint32) {
	if err := p.Send(&wire.Envelope{Pong: &wire.Pong{Nonce: nonce}}); err != nil {
		log.P2P.Debug().Err(err).Str("peer", p.addr).Msg("pong send failed")
	}
}
