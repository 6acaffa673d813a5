package block

import "github.com/bastille-chain/bastille/pkg/types"

// Header carries block metadata outside the transaction list.
// ConsensusData is an opaque slot for consensus-engine bookkeeping
// (e.g. retarget diagnostics); it is never hashed as part of proof-of-work.
type Header struct {
	Index         uint64            `json:"index"`
	PreviousHash  types.Hash        `json:"previous_hash"`
	Timestamp     uint64            `json:"timestamp"`
	MerkleRoot    types.Hash        `json:"merkle_root"`
	Nonce         uint64            `json:"nonce"`
	Difficulty    uint32            `json:"difficulty"`
	ConsensusData map[string]string `json:"consensus_data,omitempty"`
}
