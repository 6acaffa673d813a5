package chain

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/bastille-chain/bastille/config"
	"github.com/bastille-chain/bastille/internal/consensus"
	"github.com/bastille-chain/bastille/internal/miner"
	"github.com/bastille-chain/bastille/internal/storage"
	"github.com/bastille-chain/bastille/pkg/block"
	"github.com/bastille-chain/bastille/pkg/crypto"
	"github.com/bastille-chain/bastille/pkg/tx"
	"github.com/bastille-chain/bastille/pkg/types"
)

// testGenesis returns a fast-mining, short-maturity genesis suitable for
// exercising many blocks in a single test.
func testGenesis() *config.Genesis {
	gen := config.TestnetGenesis()
	gen.MaturityWindow = 2
	return gen
}

// testChain builds a fresh chain over an in-memory store, initialized
// from genesis.
func testChain(t *testing.T, gen *config.Genesis) (*Chain, *consensus.PoW) {
	t.Helper()
	types.SetAddressPrefix(gen.AddressPrefix)
	engine := consensus.NewPoW(gen)
	c, err := New(storage.NewMemory(), gen, engine)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.InitFromGenesis(gen); err != nil {
		t.Fatalf("InitFromGenesis: %v", err)
	}
	return c, engine
}

// addrFromEntropy derives the address and public key set a real wallet
// would produce from a repeated-byte seed, mirroring the entropy
// convention used throughout internal/mempool's and pkg/tx's own tests.
func addrFromEntropy(entropy byte) (types.Address, types.PublicKeySet) {
	seed := bytes.Repeat([]byte{entropy}, 32)
	keys := tx.DerivePublicKeys(seed)
	truncated := crypto.AddressHash(keys.Dilithium, keys.Falcon, keys.Sphincs)
	return types.NewAddress(types.AddressPrefix, truncated), keys
}

// mineBlock assembles and seals the next block extending c's tip, paying
// the coinbase reward to coinbaseAddr and including any extra
// transactions after it.
func mineBlock(t *testing.T, c *Chain, engine *consensus.PoW, gen *config.Genesis, coinbaseAddr types.Address, extra ...*tx.Transaction) *block.Block {
	t.Helper()
	height := c.Height() + 1
	coinbase := miner.BuildCoinbase(gen, coinbaseAddr, config.BlockReward, height)

	txs := append([]*tx.Transaction{coinbase}, extra...)
	hashes := make([]types.Hash, len(txs))
	for i, transaction := range txs {
		hashes[i] = transaction.Hash
	}

	timestamps, err := c.RecentTimestamps(gen.RetargetWindow)
	if err != nil {
		t.Fatalf("RecentTimestamps: %v", err)
	}
	tipDifficulty, err := c.TipDifficulty()
	if err != nil {
		t.Fatalf("TipDifficulty: %v", err)
	}

	header := &block.Header{
		Index:        height,
		PreviousHash: c.TipHash(),
		Timestamp:    uint64(time.Now().Unix()) + height,
		MerkleRoot:   block.ComputeMerkleRoot(hashes),
	}
	if err := engine.Prepare(header, c.Height(), tipDifficulty, timestamps); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	blk := block.NewBlock(header, txs)
	if err := engine.Seal(blk); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return blk
}

func TestNew_NilDB(t *testing.T) {
	gen := testGenesis()
	_, err := New(nil, gen, consensus.NewPoW(gen))
	if err == nil {
		t.Error("expected error for nil db")
	}
}

func TestNew_NilGenesis(t *testing.T) {
	_, err := New(storage.NewMemory(), nil, consensus.NewPoW(testGenesis()))
	if err == nil {
		t.Error("expected error for nil genesis")
	}
}

func TestNew_NilEngine(t *testing.T) {
	_, err := New(storage.NewMemory(), testGenesis(), nil)
	if err == nil {
		t.Error("expected error for nil engine")
	}
}

func TestNew_FreshChainIsGenesis(t *testing.T) {
	gen := testGenesis()
	c, err := New(storage.NewMemory(), gen, consensus.NewPoW(gen))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Height() != 0 {
		t.Errorf("height = %d, want 0", c.Height())
	}
	if !c.TipHash().IsZero() {
		t.Error("fresh chain tip should be zero")
	}
}

func TestInitFromGenesis(t *testing.T) {
	gen := testGenesis()
	c, _ := testChain(t, gen)

	if c.Height() != 0 {
		t.Errorf("height after genesis init = %d, want 0", c.Height())
	}
	if c.TipHash().IsZero() {
		t.Error("tip should not be zero after genesis init")
	}

	blk, err := c.GetBlockByHeight(0)
	if err != nil {
		t.Fatalf("GetBlockByHeight(0): %v", err)
	}
	if blk.Header.Index != 0 {
		t.Errorf("genesis block index = %d, want 0", blk.Header.Index)
	}
	if blk.Transactions[0].Amount != config.BlockReward {
		t.Errorf("genesis coinbase amount = %d, want %d", blk.Transactions[0].Amount, config.BlockReward)
	}

	// The genesis reward is immature until MaturityWindow blocks have
	// been appended on top.
	recipient, err := c.Account(gen.GenesisCoinbaseAddress())
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if recipient.Balance != 0 {
		t.Errorf("genesis recipient spendable balance = %d, want 0 before maturity", recipient.Balance)
	}
}

func TestInitFromGenesis_DoubleInit(t *testing.T) {
	gen := testGenesis()
	c, _ := testChain(t, gen)

	if err := c.InitFromGenesis(gen); err == nil {
		t.Error("double InitFromGenesis should fail")
	}
}

func TestAddBlock_ExtendsTip(t *testing.T) {
	gen := testGenesis()
	c, engine := testChain(t, gen)
	minerAddr, _ := addrFromEntropy(0x01)

	blk := mineBlock(t, c, engine, gen, minerAddr)
	if err := c.AddBlock(blk); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}

	if c.Height() != 1 {
		t.Errorf("height = %d, want 1", c.Height())
	}
	if c.TipHash() != blk.Hash {
		t.Error("tip should be the newly added block")
	}
}

func TestAddBlock_DuplicateBlock(t *testing.T) {
	gen := testGenesis()
	c, engine := testChain(t, gen)
	minerAddr, _ := addrFromEntropy(0x01)

	blk := mineBlock(t, c, engine, gen, minerAddr)
	if err := c.AddBlock(blk); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	if err := c.AddBlock(blk); !errors.Is(err, ErrBlockKnown) {
		t.Errorf("expected ErrBlockKnown, got %v", err)
	}
}

func TestAddBlock_OldBlock(t *testing.T) {
	gen := testGenesis()
	c, engine := testChain(t, gen)
	minerAddr, _ := addrFromEntropy(0x01)

	blk1 := mineBlock(t, c, engine, gen, minerAddr)
	if err := c.AddBlock(blk1); err != nil {
		t.Fatalf("AddBlock(1): %v", err)
	}
	blk2 := mineBlock(t, c, engine, gen, minerAddr)
	if err := c.AddBlock(blk2); err != nil {
		t.Fatalf("AddBlock(2): %v", err)
	}

	// A distinct, never-seen block claiming an already-passed height is
	// old, not merely a duplicate or a parent mismatch.
	coinbase := miner.BuildCoinbase(gen, minerAddr, config.BlockReward, 1)
	header := &block.Header{
		Index:        1,
		PreviousHash: blk1.Header.PreviousHash,
		Timestamp:    blk1.Header.Timestamp + 1000,
		MerkleRoot:   block.ComputeMerkleRoot([]types.Hash{coinbase.Hash}),
	}
	if err := engine.Prepare(header, 0, 0, nil); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	competing := block.NewBlock(header, []*tx.Transaction{coinbase})
	if err := engine.Seal(competing); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if err := c.AddBlock(competing); !errors.Is(err, ErrOldBlock) {
		t.Errorf("expected ErrOldBlock, got %v", err)
	}
}

func TestAddBlock_Orphan(t *testing.T) {
	gen := testGenesis()
	c, engine := testChain(t, gen)
	minerAddr, _ := addrFromEntropy(0x01)

	blk1 := mineBlock(t, c, engine, gen, minerAddr)
	// Build blk2 on top of blk1 without ever admitting blk1.
	height := blk1.Header.Index + 1
	coinbase := miner.BuildCoinbase(gen, minerAddr, config.BlockReward, height)
	header := &block.Header{
		Index:        height,
		PreviousHash: blk1.Hash,
		Timestamp:    blk1.Header.Timestamp + 1,
		MerkleRoot:   block.ComputeMerkleRoot([]types.Hash{coinbase.Hash}),
	}
	if err := engine.Prepare(header, blk1.Header.Index, blk1.Header.Difficulty, []uint64{blk1.Header.Timestamp}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	blk2 := block.NewBlock(header, []*tx.Transaction{coinbase})
	if err := engine.Seal(blk2); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	err := c.AddBlock(blk2)
	var orphan *OrphanAdded
	if !errors.As(err, &orphan) {
		t.Fatalf("expected *OrphanAdded, got %v", err)
	}
	if orphan.ParentHash != blk1.Hash {
		t.Errorf("orphan parent = %s, want %s", orphan.ParentHash, blk1.Hash)
	}
	if c.Height() != 0 {
		t.Errorf("height should still be 0 while the parent is missing, got %d", c.Height())
	}

	// Admitting the missing parent should replay the parked orphan.
	if err := c.AddBlock(blk1); err != nil {
		t.Fatalf("AddBlock(parent): %v", err)
	}
	if c.Height() != 2 {
		t.Errorf("height after orphan replay = %d, want 2", c.Height())
	}
	if c.TipHash() != blk2.Hash {
		t.Error("tip should be the replayed orphan block")
	}
}

func TestAddBlock_RegularTransaction_FirstUseRegistersKeys(t *testing.T) {
	gen := testGenesis()
	c, engine := testChain(t, gen)
	senderAddr, senderKeys := addrFromEntropy(0x02)
	recipientAddr, _ := addrFromEntropy(0x03)

	// Fund the sender with a coinbase, then wait out the maturity window.
	blk := mineBlock(t, c, engine, gen, senderAddr)
	if err := c.AddBlock(blk); err != nil {
		t.Fatalf("AddBlock(funding): %v", err)
	}
	for c.Height() < gen.MaturityWindow+1 {
		filler := mineBlock(t, c, engine, gen, recipientAddr)
		if err := c.AddBlock(filler); err != nil {
			t.Fatalf("AddBlock(filler): %v", err)
		}
	}

	spend := &tx.Transaction{
		From:      senderAddr,
		To:        recipientAddr,
		Amount:    1_000,
		Fee:       gen.MinFee,
		Nonce:     1,
		Data:      tx.EncodeKeyRegistration(senderKeys),
		Timestamp: time.Now().Unix(),
	}
	seed := bytes.Repeat([]byte{0x02}, 32)
	spend.Sign(seed)

	spendBlock := mineBlock(t, c, engine, gen, recipientAddr, spend)
	if err := c.AddBlock(spendBlock); err != nil {
		t.Fatalf("AddBlock(spend): %v", err)
	}

	sender, err := c.Account(senderAddr)
	if err != nil {
		t.Fatalf("Account(sender): %v", err)
	}
	if sender.Nonce != 1 {
		t.Errorf("sender nonce = %d, want 1", sender.Nonce)
	}
	if sender.PublicKeys.IsZero() {
		t.Error("sender public keys should have been registered on first spend")
	}

	recipient, err := c.Account(recipientAddr)
	if err != nil {
		t.Fatalf("Account(recipient): %v", err)
	}
	if recipient.Balance < 1_000 {
		t.Errorf("recipient balance = %d, want at least 1000", recipient.Balance)
	}
}

func TestAddBlock_InsufficientMatureBalance(t *testing.T) {
	gen := testGenesis()
	c, engine := testChain(t, gen)
	senderAddr, senderKeys := addrFromEntropy(0x04)
	recipientAddr, _ := addrFromEntropy(0x05)

	// Fund the sender but do not wait for maturity.
	blk := mineBlock(t, c, engine, gen, senderAddr)
	if err := c.AddBlock(blk); err != nil {
		t.Fatalf("AddBlock(funding): %v", err)
	}

	spend := &tx.Transaction{
		From:      senderAddr,
		To:        recipientAddr,
		Amount:    1_000,
		Fee:       gen.MinFee,
		Nonce:     1,
		Data:      tx.EncodeKeyRegistration(senderKeys),
		Timestamp: time.Now().Unix(),
	}
	spend.Sign(bytes.Repeat([]byte{0x04}, 32))

	spendBlock := mineBlock(t, c, engine, gen, recipientAddr, spend)
	err := c.AddBlock(spendBlock)
	var insufficient *InsufficientMatureBalance
	if !errors.As(err, &insufficient) {
		t.Errorf("expected *InsufficientMatureBalance, got %v", err)
	}
}

func TestAddBlock_BadNonce(t *testing.T) {
	gen := testGenesis()
	c, engine := testChain(t, gen)
	senderAddr, senderKeys := addrFromEntropy(0x06)
	recipientAddr, _ := addrFromEntropy(0x07)

	blk := mineBlock(t, c, engine, gen, senderAddr)
	if err := c.AddBlock(blk); err != nil {
		t.Fatalf("AddBlock(funding): %v", err)
	}
	for c.Height() < gen.MaturityWindow+1 {
		filler := mineBlock(t, c, engine, gen, recipientAddr)
		if err := c.AddBlock(filler); err != nil {
			t.Fatalf("AddBlock(filler): %v", err)
		}
	}

	spend := &tx.Transaction{
		From:      senderAddr,
		To:        recipientAddr,
		Amount:    1_000,
		Fee:       gen.MinFee,
		Nonce:     2, // should be 1
		Data:      tx.EncodeKeyRegistration(senderKeys),
		Timestamp: time.Now().Unix(),
	}
	spend.Sign(bytes.Repeat([]byte{0x06}, 32))

	spendBlock := mineBlock(t, c, engine, gen, recipientAddr, spend)
	err := c.AddBlock(spendBlock)
	var badNonce *InvalidNonce
	if !errors.As(err, &badNonce) {
		t.Errorf("expected *InvalidNonce, got %v", err)
	}
}

func TestGetTransaction(t *testing.T) {
	gen := testGenesis()
	c, _ := testChain(t, gen)

	genesisBlock, err := c.GetBlockByHeight(0)
	if err != nil {
		t.Fatalf("GetBlockByHeight(0): %v", err)
	}
	coinbase := genesisBlock.Transactions[0]

	got, err := c.GetTransaction(coinbase.Hash)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if got.Hash != coinbase.Hash {
		t.Errorf("GetTransaction hash = %s, want %s", got.Hash, coinbase.Hash)
	}
}

func TestGetTransaction_NotFound(t *testing.T) {
	gen := testGenesis()
	c, _ := testChain(t, gen)

	if _, err := c.GetTransaction(types.Hash{0xde, 0xad}); err == nil {
		t.Error("GetTransaction should fail for unknown hash")
	}
}

func TestSubscribe_NotifiesOnAdmission(t *testing.T) {
	gen := testGenesis()
	c, engine := testChain(t, gen)
	minerAddr, _ := addrFromEntropy(0x08)

	ch := c.Subscribe()
	blk := mineBlock(t, c, engine, gen, minerAddr)
	if err := c.AddBlock(blk); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}

	select {
	case got := <-ch:
		if got.Hash != blk.Hash {
			t.Errorf("notified block hash = %s, want %s", got.Hash, blk.Hash)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscription notification")
	}
}
