// Package crypto provides cryptographic primitives for the Bastille chain.
package crypto

import (
	"crypto/sha256"

	"github.com/bastille-chain/bastille/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data. Used for the PoW
// candidate hash and for every admitted non-genesis block's hash.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// SHA256 computes a SHA-256 hash of the input data. Used for the genesis
// block's deterministic hash and for every transaction hash.
func SHA256(data []byte) types.Hash {
	return sha256.Sum256(data)
}

// DoubleHash computes Hash(Hash(data)).
func DoubleHash(data []byte) types.Hash {
	first := Hash(data)
	return Hash(first[:])
}

// MerkleConcat hashes the concatenation of two hashes with SHA-256, the
// pairwise step of the merkle tree construction.
func MerkleConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return SHA256(buf[:])
}

// AddressHash computes SHA-256(pub_d‖pub_f‖pub_s)[0..20], the truncated
// hash used to derive an address from the three post-quantum public keys.
func AddressHash(pubD, pubF, pubS []byte) [20]byte {
	buf := make([]byte, 0, len(pubD)+len(pubF)+len(pubS))
	buf = append(buf, pubD...)
	buf = append(buf, pubF...)
	buf = append(buf, pubS...)
	full := SHA256(buf)
	var out [20]byte
	copy(out[:], full[:20])
	return out
}
