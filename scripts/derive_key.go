// derive_key.go prints the public key set and address for a hex-encoded
// 32-byte private key entropy file.
// Usage: go run scripts/derive_key.go <keyfile>
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/bastille-chain/bastille/pkg/crypto"
	"github.com/bastille-chain/bastille/pkg/tx"
	"github.com/bastille-chain/bastille/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: derive_key <keyfile>")
		os.Exit(1)
	}
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	keyHex := strings.TrimSpace(string(data))
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(keyBytes) != 32 {
		fmt.Fprintf(os.Stderr, "expected 32 bytes of key entropy, got %d\n", len(keyBytes))
		os.Exit(1)
	}
	keys := tx.DerivePublicKeys(keyBytes)
	addr := types.NewAddress(types.AddressPrefix, crypto.AddressHash(keys.Dilithium, keys.Falcon, keys.Sphincs))
	fmt.Printf("dilithium_pub=%s\n", hex.EncodeToString(keys.Dilithium))
	fmt.Printf("falcon_pub=%s\n", hex.EncodeToString(keys.Falcon))
	fmt.Printf("sphincs_pub=%s\n", hex.EncodeToString(keys.Sphincs))
	fmt.Printf("address=%s\n", addr.String())
}
