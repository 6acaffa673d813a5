package p2p

import (
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/bastille-chain/bastille/config"
	"github.com/bastille-chain/bastille/internal/chain"
	"github.com/bastille-chain/bastille/internal/log"
	"github.com/bastille-chain/bastille/internal/mempool"
	"github.com/bastille-chain/bastille/internal/p2p/wire"
	"github.com/bastille-chain/bastille/pkg/block"
	"github.com/bastille-chain/bastille/pkg/types"
)

// maintenanceInterval governs seed reconnection. Dead peers are removed
// by their own read loop, not by this ticker.
const maintenanceInterval = 30 * time.Second

// seenCap bounds the dedup sets; once exceeded the set is simply
// reallocated empty rather than evicted incrementally. Gossip networks
// tolerate the rare re-announce this produces far better than the
// bookkeeping an LRU would cost here.
const seenCap = 50_000

// Node owns every peer connection, the handshake identity advertised to
// them, and the dedup/sync bookkeeping that turns Chain.Subscribe
// notifications and peer Inv/GetData traffic into a working gossip
// network.
type Node struct {
	identity Identity
	cfg      config.P2PConfig
	chain    *chain.Chain
	mempool  *mempool.Pool

	listener net.Listener

	mu    sync.Mutex
	peers map[string]*Peer

	seenMu     sync.Mutex
	blocksSeen map[types.Hash]struct{}
	txsSeen    map[types.Hash]struct{}
	requested  map[types.Hash]string // block hash -> addr of peer it was requested from

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New builds a node from its static configuration. Call Start to begin
// listening and dialing seeds.
func New(cfg config.P2PConfig, gen *config.Genesis, c *chain.Chain, mp *mempool.Pool, userAgent string) *Node {
	n := &Node{
		cfg:        cfg,
		chain:      c,
		mempool:    mp,
		peers:      make(map[string]*Peer),
		blocksSeen: make(map[types.Hash]struct{}),
		txsSeen:    make(map[types.Hash]struct{}),
		requested:  make(map[types.Hash]string),
		stop:       make(chan struct{}),
	}
	n.identity = Identity{
		Network:    gen.ChainName,
		Magic:      []byte(gen.Magic),
		ListenIP:   cfg.ListenAddr,
		ListenPort: uint32(cfg.Port),
		Nonce:      rand.Uint64(),
		UserAgent:  userAgent,
		HeightFn: func() (uint64, types.Hash) {
			return c.Height(), c.TipHash()
		},
	}
	return n
}

// Start opens the listening socket, dials configured seeds, and starts
// the broadcast and maintenance loops. Non-blocking: all network work
// runs on background goroutines.
func (n *Node) Start() error {
	addr := net.JoinHostPort(n.cfg.ListenAddr, strconv.Itoa(n.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	n.listener = ln
	log.P2P.Info().Str("addr", addr).Msg("p2p listening")

	n.wg.Add(1)
	go n.acceptLoop()

	n.wg.Add(1)
	go n.broadcastLoop()

	n.wg.Add(1)
	go n.maintenanceLoop()

	for _, seed := range n.cfg.Seeds {
		seed := seed
		go func() {
			if err := n.Connect(seed); err != nil {
				log.P2P.Debug().Err(err).Str("seed", seed).Msg("seed connect failed")
			}
		}()
	}

	return nil
}

// Stop closes the listener and every peer connection.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stop)
		if n.listener != nil {
			n.listener.Close()
		}
		n.mu.Lock()
		for _, p := range n.peers {
			p.Close()
		}
		n.mu.Unlock()
	})
	n.wg.Wait()
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.peers)
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stop:
				return
			default:
				log.P2P.Debug().Err(err).Msg("accept failed")
				return
			}
		}
		go n.handleInbound(conn)
	}
}

func (n *Node) handleInbound(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	p := newPeer(conn, addr, true, n.cfg.MaxFrameBytes)
	if err := acceptHandshake(p, n.identity); err != nil {
		log.P2P.Debug().Err(err).Str("peer", addr).Msg("inbound handshake failed")
		p.Close()
		return
	}
	n.registerAndServe(p)
}

// Connect dials addr, completes the handshake, and adds the peer to the
// registry if there is room under max_peers.
func (n *Node) Connect(addr string) error {
	if n.PeerCount() >= n.cfg.MaxPeers {
		return fmt.Errorf("at max peers (%d)", n.cfg.MaxPeers)
	}
	p, err := DialAndHandshake(addr, n.identity, n.cfg.MaxFrameBytes)
	if err != nil {
		return err
	}
	n.registerAndServe(p)
	return nil
}

func (n *Node) registerAndServe(p *Peer) {
	n.mu.Lock()
	if existing, ok := n.peers[p.Addr()]; ok {
		n.mu.Unlock()
		log.P2P.Debug().Str("peer", p.Addr()).Msg("duplicate peer connection, closing new one")
		_ = existing
		p.Close()
		return
	}
	if len(n.peers) >= n.cfg.MaxPeers {
		n.mu.Unlock()
		p.Close()
		return
	}
	n.peers[p.Addr()] = p
	n.mu.Unlock()

	log.P2P.Info().Str("peer", p.Addr()).Bool("inbound", p.Inbound()).Uint64("height", p.Height()).Msg("peer connected")

	p.startKeepalive(func() { n.removePeer(p) })

	n.wg.Add(1)
	go n.readLoop(p)

	n.maybeStartSync(p)
}

func (n *Node) removePeer(p *Peer) {
	n.mu.Lock()
	delete(n.peers, p.Addr())
	n.mu.Unlock()
	p.Close()
	log.P2P.Info().Str("peer", p.Addr()).Msg("peer disconnected")
}

func (n *Node) readLoop(p *Peer) {
	defer n.wg.Done()
	defer n.removePeer(p)
	for {
		env, err := p.Receive()
		if err != nil {
			log.P2P.Debug().Err(err).Str("peer", p.Addr()).Msg("peer read failed")
			return
		}
		if err := n.dispatch(p, env); err != nil {
			log.P2P.Debug().Err(err).Str("peer", p.Addr()).Msg("dispatch failed, closing peer")
			return
		}
	}
}

// dispatch routes a decoded envelope to the matching handler. Returning
// an error closes the connection; the caller already logs it.
func (n *Node) dispatch(p *Peer, env *wire.Envelope) error {
	switch {
	case env.Ping != nil:
		p.handlePing(env.Ping.Nonce)
	case env.Pong != nil:
		p.handlePong(env.Pong.Nonce)
	case env.Height != nil:
		var tip types.Hash
		copy(tip[:], env.Height.TipHash)
		p.setAnnounced(env.Height.Height, tip)
		n.maybeStartSync(p)
	case env.Inv != nil:
		n.handleInv(p, env.Inv)
	case env.GetData != nil:
		n.handleGetData(p, env.GetData)
	case env.Block != nil:
		n.handleBlock(p, env.Block)
	case env.Tx != nil:
		n.handleTx(p, env.Tx)
	case env.GetHeaders != nil:
		n.handleGetHeaders(p, env.GetHeaders)
	case env.Headers != nil:
		n.handleHeaders(p, env.Headers)
	case env.GetBlocks != nil:
		n.handleGetBlocks(p, env.GetBlocks)
	case env.Addr != nil:
		// Address gossip is accepted but not acted on: this node dials
		// only its configured seeds, never addresses learned from peers.
	case env.GetAddr:
		// No address book is maintained; nothing to reply with.
	default:
		return wire.ErrUnknownVariant
	}
	return nil
}

// BroadcastBlock announces a locally sealed block to every peer. It
// implements miner.Broadcaster; Chain.Subscribe already broadcasts the
// same admission independently, so a block mined by this node may be
// announced twice, which peers tolerate as ordinary gossip redundancy.
func (n *Node) BroadcastBlock(blk *block.Block) {
	n.markBlockSeen(blk.Hash)
	n.broadcastInv(wire.InvBlock, blk.Hash, "")
}

func (n *Node) broadcastLoop() {
	defer n.wg.Done()
	ch := n.chain.Subscribe()
	for {
		select {
		case <-n.stop:
			return
		case blk, ok := <-ch:
			if !ok {
				return
			}
			n.markBlockSeen(blk.Hash)
			n.broadcastInv(wire.InvBlock, blk.Hash, "")
		}
	}
}

// broadcastInv announces an item to every connected peer except
// exceptAddr (typically whichever peer it was just received from).
func (n *Node) broadcastInv(t wire.InvType, hash types.Hash, exceptAddr string) {
	env := &wire.Envelope{Inv: &wire.Inv{Items: []wire.InvItem{{Type: t, Hash: hash.Bytes()}}}}
	n.mu.Lock()
	peers := make([]*Peer, 0, len(n.peers))
	for addr, p := range n.peers {
		if addr == exceptAddr {
			continue
		}
		peers = append(peers, p)
	}
	n.mu.Unlock()
	for _, p := range peers {
		if err := p.Send(env); err != nil {
			log.P2P.Debug().Err(err).Str("peer", p.Addr()).Msg("inv send failed")
		}
	}
}

func (n *Node) maintenanceLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			n.reconnectSeeds()
		}
	}
}

// reconnectSeeds dials one not-yet-connected seed at random when under
// max_peers, so a node that lost all its connections recovers without
// operator intervention.
func (n *Node) reconnectSeeds() {
	if n.PeerCount() >= n.cfg.MaxPeers {
		return
	}
	n.mu.Lock()
	candidates := make([]string, 0, len(n.cfg.Seeds))
	for _, s := range n.cfg.Seeds {
		if _, connected := n.peers[s]; !connected {
			candidates = append(candidates, s)
		}
	}
	n.mu.Unlock()
	if len(candidates) == 0 {
		return
	}
	seed := candidates[rand.Intn(len(candidates))]
	go func() {
		if err := n.Connect(seed); err != nil {
			log.P2P.Debug().Err(err).Str("seed", seed).Msg("reconnect failed")
		}
	}()
}

func (n *Node) markBlockSeen(hash types.Hash) {
	n.seenMu.Lock()
	defer n.seenMu.Unlock()
	if len(n.blocksSeen) >= seenCap {
		n.blocksSeen = make(map[types.Hash]struct{})
	}
	n.blocksSeen[hash] = struct{}{}
}

func (n *Node) hasSeenBlock(hash types.Hash) bool {
	n.seenMu.Lock()
	defer n.seenMu.Unlock()
	_, ok := n.blocksSeen[hash]
	return ok
}

func (n *Node) markTxSeen(hash types.Hash) {
	n.seenMu.Lock()
	defer n.seenMu.Unlock()
	if len(n.txsSeen) >= seenCap {
		n.txsSeen = make(map[types.Hash]struct{})
	}
	n.txsSeen[hash] = struct{}{}
}

func (n *Node) hasSeenTx(hash types.Hash) bool {
	n.seenMu.Lock()
	defer n.seenMu.Unlock()
	_, ok := n.txsSeen[hash]
	return ok
}
