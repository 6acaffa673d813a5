package p2p

import (
	"encoding/json"
	"errors"

	"github.com/bastille-chain/bastille/internal/chain"
	"github.com/bastille-chain/bastille/internal/log"
	"github.com/bastille-chain/bastille/internal/p2p/wire"
	"github.com/bastille-chain/bastille/pkg/block"
	"github.com/bastille-chain/bastille/pkg/tx"
	"github.com/bastille-chain/bastille/pkg/types"
)

// headersBatch is the maximum number of header summaries returned by a
// single GetHeaders response, matching the headers-first catch-up
// protocol's batching.
const headersBatch = 200

// maybeStartSync requests headers from p if it claims a height ahead of
// the local chain. Called both right after a handshake's Height exchange
// and whenever a later Height message raises a peer's known tip.
func (n *Node) maybeStartSync(p *Peer) {
	if p.Height() <= n.chain.Height() {
		return
	}
	req := &wire.GetHeaders{StartHeight: n.chain.Height()}
	if err := p.Send(&wire.Envelope{GetHeaders: req}); err != nil {
		log.P2P.Debug().Err(err).Str("peer", p.Addr()).Msg("get_headers send failed")
	}
}

// handleGetHeaders answers with up to headersBatch header summaries
// starting right after msg.StartHeight.
func (n *Node) handleGetHeaders(p *Peer, msg *wire.GetHeaders) {
	tip := n.chain.Height()
	if msg.StartHeight >= tip {
		p.Send(&wire.Envelope{Headers: &wire.Headers{}})
		return
	}

	summaries := make([]wire.HeaderSummary, 0, headersBatch)
	for h := msg.StartHeight + 1; h <= tip && len(summaries) < headersBatch; h++ {
		blk, err := n.chain.GetBlockByHeight(h)
		if err != nil {
			break
		}
		summaries = append(summaries, headerSummaryOf(blk))
	}

	if err := p.Send(&wire.Envelope{Headers: &wire.Headers{Headers: summaries}}); err != nil {
		log.P2P.Debug().Err(err).Str("peer", p.Addr()).Msg("headers send failed")
	}
}

func headerSummaryOf(blk *block.Block) wire.HeaderSummary {
	return wire.HeaderSummary{
		Index:        blk.Header.Index,
		PreviousHash: blk.Header.PreviousHash.Bytes(),
		Timestamp:    blk.Header.Timestamp,
		MerkleRoot:   blk.Header.MerkleRoot.Bytes(),
		Nonce:        blk.Header.Nonce,
		Difficulty:   blk.Header.Difficulty,
		Hash:         blk.Hash.Bytes(),
	}
}

// handleHeaders requests the full block for every header the local
// chain neither holds nor has already asked for, then (if the batch was
// full) asks for the next batch starting at the last header received.
func (n *Node) handleHeaders(p *Peer, msg *wire.Headers) {
	var lastIndex uint64
	for _, h := range msg.Headers {
		var hash types.Hash
		copy(hash[:], h.Hash)
		lastIndex = h.Index

		if _, err := n.chain.GetBlock(hash); err == nil {
			continue
		}
		n.requestBlock(p, hash)
	}

	if len(msg.Headers) == headersBatch {
		if err := p.Send(&wire.Envelope{GetHeaders: &wire.GetHeaders{StartHeight: lastIndex}}); err != nil {
			log.P2P.Debug().Err(err).Str("peer", p.Addr()).Msg("get_headers continuation failed")
		}
	}
}

// handleGetBlocks serves a direct range of blocks for short catch-ups
// that don't warrant the headers-first round trip.
func (n *Node) handleGetBlocks(p *Peer, msg *wire.GetBlocks) {
	count := msg.Count
	for h := msg.StartHeight; count > 0; h, count = h+1, count-1 {
		blk, err := n.chain.GetBlockByHeight(h)
		if err != nil {
			return
		}
		n.sendBlock(p, blk)
	}
}

// requestBlock sends GetData for hash unless it is already in flight to
// some peer.
func (n *Node) requestBlock(p *Peer, hash types.Hash) {
	n.seenMu.Lock()
	if _, inFlight := n.requested[hash]; inFlight {
		n.seenMu.Unlock()
		return
	}
	n.requested[hash] = p.Addr()
	n.seenMu.Unlock()

	req := &wire.GetData{Items: []wire.InvItem{{Type: wire.InvBlock, Hash: hash.Bytes()}}}
	if err := p.Send(&wire.Envelope{GetData: req}); err != nil {
		log.P2P.Debug().Err(err).Str("peer", p.Addr()).Msg("get_data send failed")
	}
}

func (n *Node) clearRequested(hash types.Hash) {
	n.seenMu.Lock()
	delete(n.requested, hash)
	n.seenMu.Unlock()
}

// handleInv requests any announced item this node has not already seen.
func (n *Node) handleInv(p *Peer, inv *wire.Inv) {
	for _, item := range inv.Items {
		var hash types.Hash
		copy(hash[:], item.Hash)

		switch item.Type {
		case wire.InvBlock:
			if n.hasSeenBlock(hash) {
				continue
			}
			if _, err := n.chain.GetBlock(hash); err == nil {
				n.markBlockSeen(hash)
				continue
			}
			n.requestBlock(p, hash)
		case wire.InvTx:
			if n.hasSeenTx(hash) || n.mempool.Has(hash) {
				continue
			}
			req := &wire.GetData{Items: []wire.InvItem{{Type: wire.InvTx, Hash: item.Hash}}}
			if err := p.Send(&wire.Envelope{GetData: req}); err != nil {
				log.P2P.Debug().Err(err).Str("peer", p.Addr()).Msg("get_data send failed")
			}
		}
	}
}

// handleGetData serves whichever known blocks or mempool transactions a
// peer asked for.
func (n *Node) handleGetData(p *Peer, req *wire.GetData) {
	for _, item := range req.Items {
		var hash types.Hash
		copy(hash[:], item.Hash)

		switch item.Type {
		case wire.InvBlock:
			blk, err := n.chain.GetBlock(hash)
			if err != nil {
				continue
			}
			n.sendBlock(p, blk)
		case wire.InvTx:
			t := n.mempool.Get(hash)
			if t == nil {
				continue
			}
			data, err := json.Marshal(t)
			if err != nil {
				continue
			}
			p.Send(&wire.Envelope{Tx: data})
		}
	}
}

func (n *Node) sendBlock(p *Peer, blk *block.Block) {
	data, err := json.Marshal(blk)
	if err != nil {
		log.P2P.Debug().Err(err).Msg("marshal block for peer failed")
		return
	}
	if err := p.Send(&wire.Envelope{Block: data}); err != nil {
		log.P2P.Debug().Err(err).Str("peer", p.Addr()).Msg("block send failed")
	}
}

// handleBlock decodes and admits a block received over the wire. An
// orphaned admission triggers a GetData for the missing parent from the
// same peer; a successful admission is re-announced to every other peer.
func (n *Node) handleBlock(p *Peer, payload []byte) {
	var blk block.Block
	if err := json.Unmarshal(payload, &blk); err != nil {
		log.P2P.Debug().Err(err).Str("peer", p.Addr()).Msg("malformed block payload")
		return
	}

	n.clearRequested(blk.Hash)

	err := n.chain.AddBlock(&blk)
	switch {
	case err == nil:
		n.markBlockSeen(blk.Hash)
		n.mempool.RemoveConfirmed(blk.Transactions)
		n.broadcastInv(wire.InvBlock, blk.Hash, p.Addr())
	case errors.Is(err, chain.ErrBlockKnown):
		// Already have it; nothing to do.
	default:
		var orphan *chain.OrphanAdded
		if errors.As(err, &orphan) {
			n.markBlockSeen(blk.Hash)
			n.requestBlock(p, orphan.ParentHash)
			return
		}
		log.P2P.Debug().Err(err).Str("peer", p.Addr()).Str("hash", blk.Hash.String()).Msg("block rejected")
	}
}

// handleTx decodes and admits a transaction into the mempool, then
// re-announces it if it was new.
func (n *Node) handleTx(p *Peer, payload []byte) {
	var t tx.Transaction
	if err := json.Unmarshal(payload, &t); err != nil {
		log.P2P.Debug().Err(err).Str("peer", p.Addr()).Msg("malformed tx payload")
		return
	}

	if n.hasSeenTx(t.Hash) {
		return
	}

	if _, err := n.mempool.Add(&t); err != nil {
		log.P2P.Debug().Err(err).Str("peer", p.Addr()).Str("hash", t.Hash.String()).Msg("tx rejected")
		return
	}

	n.markTxSeen(t.Hash)
	n.broadcastTxInv(t.Hash, p.Addr())
}

func (n *Node) broadcastTxInv(hash types.Hash, exceptAddr string) {
	n.broadcastInv(wire.InvTx, hash, exceptAddr)
}
