// Package wire implements Bastille's peer-to-peer frame encoding: a
// length-prefixed protobuf Envelope wrapping exactly one message
// variant. The wire bytes are valid protobuf — each message below is
// hand-encoded with google.golang.org/protobuf/encoding/protowire's
// low-level writer/reader functions instead of protoc-generated stubs,
// since this environment cannot invoke protoc. Field numbers are fixed
// here and must never be renumbered once a network is live.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope field numbers. Exactly one is set per frame.
const (
	fieldVersion    = 1
	fieldVerack     = 2
	fieldPing       = 3
	fieldPong       = 4
	fieldHeight     = 5
	fieldInv        = 6
	fieldGetData    = 7
	fieldBlock      = 8
	fieldTx         = 9
	fieldAddr       = 10
	fieldGetAddr    = 11
	fieldGetHeaders = 12
	fieldHeaders    = 13
	fieldGetBlocks  = 14
)

// InvType distinguishes the two inventory item kinds carried by Inv and
// GetData.
type InvType uint32

const (
	InvBlock InvType = 0
	InvTx    InvType = 1
)

// InvItem is one (type, hash) pair in an Inv or GetData message.
type InvItem struct {
	Type InvType
	Hash []byte
}

// HeaderSummary is one entry in a Headers response: enough of a block
// header to verify proof-of-work and chain it to its parent without
// shipping transaction bodies.
type HeaderSummary struct {
	Index        uint64
	PreviousHash []byte
	Timestamp    uint64
	MerkleRoot   []byte
	Nonce        uint64
	Difficulty   uint32
	Hash         []byte
}

// Version is the handshake's first message: network identity, peer
// self-reported address, and sync position.
type Version struct {
	Network         string
	Magic           []byte
	ProtocolVersion uint32
	Services        uint64
	Timestamp       uint64
	FromIP          string
	FromPort        uint32
	ToIP            string
	ToPort          uint32
	Nonce           uint64
	UserAgent       string
	StartHeight     uint64
	Relay           bool
}

// Height announces the sender's current chain height and tip hash,
// exchanged right after both sides see Verack and again whenever the
// sender's tip changes.
type Height struct {
	Height  uint64
	TipHash []byte
}

// Ping carries a nonce the peer must echo back in a Pong within the
// keepalive timeout.
type Ping struct{ Nonce uint32 }

// Pong echoes a Ping's nonce.
type Pong struct{ Nonce uint32 }

// Inv announces items (blocks or transactions) the sender has.
type Inv struct{ Items []InvItem }

// GetData requests the full bodies of the listed items.
type GetData struct{ Items []InvItem }

// Addr gossips known peer addresses as "ip:port" strings.
type Addr struct{ Addresses []string }

// GetAddr requests the peer's known address list.
type GetAddr struct{}

// GetHeaders requests header summaries starting just after start_height.
// A zero Stop means "as many as the peer has, up to its per-response
// cap".
type GetHeaders struct {
	StartHeight uint64
	Stop        []byte
}

// Headers responds to GetHeaders with up to 200 header summaries.
type Headers struct{ Headers []HeaderSummary }

// GetBlocks requests full block bodies for a height range directly,
// bypassing the headers-first negotiation; used for short catch-ups
// where the header round trip isn't worth it.
type GetBlocks struct {
	StartHeight uint64
	Count       uint32
}

// Envelope wraps exactly one message variant for the wire. Block and Tx
// payloads are carried as pre-serialized bytes (the block/tx package's
// own JSON encoding), since the wire layer has no business
// understanding their internal structure.
type Envelope struct {
	Version    *Version
	Verack     bool
	Ping       *Ping
	Pong       *Pong
	Height     *Height
	Inv        *Inv
	GetData    *GetData
	Block      []byte
	Tx         []byte
	Addr       *Addr
	GetAddr    bool
	GetHeaders *GetHeaders
	Headers    *Headers
	GetBlocks  *GetBlocks
}

// ErrUnknownVariant is returned by Decode when a frame's Envelope field
// number is not one this node understands; the caller must close the
// connection on receiving it.
var ErrUnknownVariant = fmt.Errorf("unknown envelope variant")

// Encode serializes e to its protobuf wire bytes (without the u32
// length prefix; Peer adds that during framing).
func Encode(e *Envelope) []byte {
	var b []byte
	switch {
	case e.Version != nil:
		b = protowire.AppendTag(b, fieldVersion, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeVersion(e.Version))
	case e.Verack:
		b = protowire.AppendTag(b, fieldVerack, protowire.BytesType)
		b = protowire.AppendBytes(b, nil)
	case e.Ping != nil:
		b = protowire.AppendTag(b, fieldPing, protowire.BytesType)
		b = protowire.AppendBytes(b, encodePing(e.Ping))
	case e.Pong != nil:
		b = protowire.AppendTag(b, fieldPong, protowire.BytesType)
		b = protowire.AppendBytes(b, encodePong(e.Pong))
	case e.Height != nil:
		b = protowire.AppendTag(b, fieldHeight, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeHeight(e.Height))
	case e.Inv != nil:
		b = protowire.AppendTag(b, fieldInv, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeInvItems(e.Inv.Items))
	case e.GetData != nil:
		b = protowire.AppendTag(b, fieldGetData, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeInvItems(e.GetData.Items))
	case e.Block != nil:
		b = protowire.AppendTag(b, fieldBlock, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Block)
	case e.Tx != nil:
		b = protowire.AppendTag(b, fieldTx, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Tx)
	case e.Addr != nil:
		b = protowire.AppendTag(b, fieldAddr, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeAddr(e.Addr))
	case e.GetAddr:
		b = protowire.AppendTag(b, fieldGetAddr, protowire.BytesType)
		b = protowire.AppendBytes(b, nil)
	case e.GetHeaders != nil:
		b = protowire.AppendTag(b, fieldGetHeaders, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeGetHeaders(e.GetHeaders))
	case e.Headers != nil:
		b = protowire.AppendTag(b, fieldHeaders, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeHeaders(e.Headers))
	case e.GetBlocks != nil:
		b = protowire.AppendTag(b, fieldGetBlocks, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeGetBlocks(e.GetBlocks))
	}
	return b
}

// Decode parses one Envelope from wire bytes. It returns
// ErrUnknownVariant for a recognized protobuf tag this node has no
// handler for, and a plain error for malformed bytes.
func Decode(data []byte) (*Envelope, error) {
	num, typ, n := protowire.ConsumeTag(data)
	if n < 0 {
		return nil, fmt.Errorf("consume tag: %w", protowire.ParseError(n))
	}
	if typ != protowire.BytesType {
		return nil, fmt.Errorf("unexpected wire type %v", typ)
	}
	payload, m := protowire.ConsumeBytes(data[n:])
	if m < 0 {
		return nil, fmt.Errorf("consume payload: %w", protowire.ParseError(m))
	}

	e := &Envelope{}
	switch num {
	case fieldVersion:
		v, err := decodeVersion(payload)
		if err != nil {
			return nil, err
		}
		e.Version = v
	case fieldVerack:
		e.Verack = true
	case fieldPing:
		p, err := decodePing(payload)
		if err != nil {
			return nil, err
		}
		e.Ping = p
	case fieldPong:
		p, err := decodePong(payload)
		if err != nil {
			return nil, err
		}
		e.Pong = p
	case fieldHeight:
		h, err := decodeHeight(payload)
		if err != nil {
			return nil, err
		}
		e.Height = h
	case fieldInv:
		items, err := decodeInvItems(payload)
		if err != nil {
			return nil, err
		}
		e.Inv = &Inv{Items: items}
	case fieldGetData:
		items, err := decodeInvItems(payload)
		if err != nil {
			return nil, err
		}
		e.GetData = &GetData{Items: items}
	case fieldBlock:
		e.Block = append([]byte(nil), payload...)
	case fieldTx:
		e.Tx = append([]byte(nil), payload...)
	case fieldAddr:
		a, err := decodeAddr(payload)
		if err != nil {
			return nil, err
		}
		e.Addr = a
	case fieldGetAddr:
		e.GetAddr = true
	case fieldGetHeaders:
		g, err := decodeGetHeaders(payload)
		if err != nil {
			return nil, err
		}
		e.GetHeaders = g
	case fieldHeaders:
		h, err := decodeHeaders(payload)
		if err != nil {
			return nil, err
		}
		e.Headers = h
	case fieldGetBlocks:
		g, err := decodeGetBlocks(payload)
		if err != nil {
			return nil, err
		}
		e.GetBlocks = g
	default:
		return nil, ErrUnknownVariant
	}
	return e, nil
}

// ── Version ──────────────────────────────────────────────────────────

const (
	versionFieldNetwork     = 1
	versionFieldMagic       = 2
	versionFieldProtoVer    = 3
	versionFieldServices    = 4
	versionFieldTimestamp   = 5
	versionFieldFromIP      = 6
	versionFieldFromPort    = 7
	versionFieldToIP        = 8
	versionFieldToPort      = 9
	versionFieldNonce       = 10
	versionFieldUserAgent   = 11
	versionFieldStartHeight = 12
	versionFieldRelay       = 13
)

func encodeVersion(v *Version) []byte {
	var b []byte
	b = appendString(b, versionFieldNetwork, v.Network)
	b = appendBytes(b, versionFieldMagic, v.Magic)
	b = appendVarint(b, versionFieldProtoVer, uint64(v.ProtocolVersion))
	b = appendVarint(b, versionFieldServices, v.Services)
	b = appendVarint(b, versionFieldTimestamp, v.Timestamp)
	b = appendString(b, versionFieldFromIP, v.FromIP)
	b = appendVarint(b, versionFieldFromPort, uint64(v.FromPort))
	b = appendString(b, versionFieldToIP, v.ToIP)
	b = appendVarint(b, versionFieldToPort, uint64(v.ToPort))
	b = appendVarint(b, versionFieldNonce, v.Nonce)
	b = appendString(b, versionFieldUserAgent, v.UserAgent)
	b = appendVarint(b, versionFieldStartHeight, v.StartHeight)
	b = appendBool(b, versionFieldRelay, v.Relay)
	return b
}

func decodeVersion(data []byte) (*Version, error) {
	v := &Version{}
	return v, walkFields(data, func(num protowire.Number, typ protowire.Type, val []byte, u uint64) error {
		switch num {
		case versionFieldNetwork:
			v.Network = string(val)
		case versionFieldMagic:
			v.Magic = append([]byte(nil), val...)
		case versionFieldProtoVer:
			v.ProtocolVersion = uint32(u)
		case versionFieldServices:
			v.Services = u
		case versionFieldTimestamp:
			v.Timestamp = u
		case versionFieldFromIP:
			v.FromIP = string(val)
		case versionFieldFromPort:
			v.FromPort = uint32(u)
		case versionFieldToIP:
			v.ToIP = string(val)
		case versionFieldToPort:
			v.ToPort = uint32(u)
		case versionFieldNonce:
			v.Nonce = u
		case versionFieldUserAgent:
			v.UserAgent = string(val)
		case versionFieldStartHeight:
			v.StartHeight = u
		case versionFieldRelay:
			v.Relay = u != 0
		}
		return nil
	})
}

// ── Ping / Pong ──────────────────────────────────────────────────────

const fieldNonce = 1

func encodePing(p *Ping) []byte { return appendVarint(nil, fieldNonce, uint64(p.Nonce)) }
func encodePong(p *Pong) []byte { return appendVarint(nil, fieldNonce, uint64(p.Nonce)) }

func decodePing(data []byte) (*Ping, error) {
	p := &Ping{}
	return p, walkFields(data, func(num protowire.Number, typ protowire.Type, val []byte, u uint64) error {
		if num == fieldNonce {
			p.Nonce = uint32(u)
		}
		return nil
	})
}

func decodePong(data []byte) (*Pong, error) {
	p := &Pong{}
	return p, walkFields(data, func(num protowire.Number, typ protowire.Type, val []byte, u uint64) error {
		if num == fieldNonce {
			p.Nonce = uint32(u)
		}
		return nil
	})
}

// ── Height ───────────────────────────────────────────────────────────

const (
	heightFieldHeight  = 1
	heightFieldTipHash = 2
)

func encodeHeight(h *Height) []byte {
	var b []byte
	b = appendVarint(b, heightFieldHeight, h.Height)
	b = appendBytes(b, heightFieldTipHash, h.TipHash)
	return b
}

func decodeHeight(data []byte) (*Height, error) {
	h := &Height{}
	return h, walkFields(data, func(num protowire.Number, typ protowire.Type, val []byte, u uint64) error {
		switch num {
		case heightFieldHeight:
			h.Height = u
		case heightFieldTipHash:
			h.TipHash = append([]byte(nil), val...)
		}
		return nil
	})
}

// ── Inv / GetData items ─────────────────────────────────────────────

const (
	invItemFieldType = 1
	invItemFieldHash = 2
	invFieldItem     = 1
)

func encodeInvItems(items []InvItem) []byte {
	var b []byte
	for _, it := range items {
		var item []byte
		item = appendVarint(item, invItemFieldType, uint64(it.Type))
		item = appendBytes(item, invItemFieldHash, it.Hash)
		b = protowire.AppendTag(b, invFieldItem, protowire.BytesType)
		b = protowire.AppendBytes(b, item)
	}
	return b
}

func decodeInvItems(data []byte) ([]InvItem, error) {
	var items []InvItem
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("inv: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if num != invFieldItem || typ != protowire.BytesType {
			return nil, fmt.Errorf("inv: unexpected field %d", num)
		}
		raw, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return nil, fmt.Errorf("inv: consume item: %w", protowire.ParseError(m))
		}
		data = data[m:]

		var it InvItem
		if err := walkFields(raw, func(num protowire.Number, typ protowire.Type, val []byte, u uint64) error {
			switch num {
			case invItemFieldType:
				it.Type = InvType(u)
			case invItemFieldHash:
				it.Hash = append([]byte(nil), val...)
			}
			return nil
		}); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

// ── Addr ─────────────────────────────────────────────────────────────

const addrFieldAddress = 1

func encodeAddr(a *Addr) []byte {
	var b []byte
	for _, addr := range a.Addresses {
		b = appendString(b, addrFieldAddress, addr)
	}
	return b
}

func decodeAddr(data []byte) (*Addr, error) {
	a := &Addr{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, val []byte, u uint64) error {
		if num == addrFieldAddress {
			a.Addresses = append(a.Addresses, string(val))
		}
		return nil
	})
	return a, err
}

// ── GetHeaders / Headers ─────────────────────────────────────────────

const (
	getHeadersFieldStart = 1
	getHeadersFieldStop  = 2
)

func encodeGetHeaders(g *GetHeaders) []byte {
	var b []byte
	b = appendVarint(b, getHeadersFieldStart, g.StartHeight)
	b = appendBytes(b, getHeadersFieldStop, g.Stop)
	return b
}

func decodeGetHeaders(data []byte) (*GetHeaders, error) {
	g := &GetHeaders{}
	return g, walkFields(data, func(num protowire.Number, typ protowire.Type, val []byte, u uint64) error {
		switch num {
		case getHeadersFieldStart:
			g.StartHeight = u
		case getHeadersFieldStop:
			g.Stop = append([]byte(nil), val...)
		}
		return nil
	})
}

const (
	headerSummaryFieldIndex      = 1
	headerSummaryFieldPrevHash   = 2
	headerSummaryFieldTimestamp  = 3
	headerSummaryFieldMerkle     = 4
	headerSummaryFieldNonce      = 5
	headerSummaryFieldDifficulty = 6
	headerSummaryFieldHash       = 7

	headersFieldEntry = 1
)

func encodeHeaderSummary(h HeaderSummary) []byte {
	var b []byte
	b = appendVarint(b, headerSummaryFieldIndex, h.Index)
	b = appendBytes(b, headerSummaryFieldPrevHash, h.PreviousHash)
	b = appendVarint(b, headerSummaryFieldTimestamp, h.Timestamp)
	b = appendBytes(b, headerSummaryFieldMerkle, h.MerkleRoot)
	b = appendVarint(b, headerSummaryFieldNonce, h.Nonce)
	b = appendVarint(b, headerSummaryFieldDifficulty, uint64(h.Difficulty))
	b = appendBytes(b, headerSummaryFieldHash, h.Hash)
	return b
}

func decodeHeaderSummary(data []byte) (HeaderSummary, error) {
	var h HeaderSummary
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, val []byte, u uint64) error {
		switch num {
		case headerSummaryFieldIndex:
			h.Index = u
		case headerSummaryFieldPrevHash:
			h.PreviousHash = append([]byte(nil), val...)
		case headerSummaryFieldTimestamp:
			h.Timestamp = u
		case headerSummaryFieldMerkle:
			h.MerkleRoot = append([]byte(nil), val...)
		case headerSummaryFieldNonce:
			h.Nonce = u
		case headerSummaryFieldDifficulty:
			h.Difficulty = uint32(u)
		case headerSummaryFieldHash:
			h.Hash = append([]byte(nil), val...)
		}
		return nil
	})
	return h, err
}

func encodeHeaders(h *Headers) []byte {
	var b []byte
	for _, entry := range h.Headers {
		b = protowire.AppendTag(b, headersFieldEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeHeaderSummary(entry))
	}
	return b
}

func decodeHeaders(data []byte) (*Headers, error) {
	h := &Headers{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("headers: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if num != headersFieldEntry || typ != protowire.BytesType {
			return nil, fmt.Errorf("headers: unexpected field %d", num)
		}
		raw, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return nil, fmt.Errorf("headers: consume entry: %w", protowire.ParseError(m))
		}
		data = data[m:]

		entry, err := decodeHeaderSummary(raw)
		if err != nil {
			return nil, err
		}
		h.Headers = append(h.Headers, entry)
	}
	return h, nil
}

// ── GetBlocks ────────────────────────────────────────────────────────

const (
	getBlocksFieldStart = 1
	getBlocksFieldCount = 2
)

func encodeGetBlocks(g *GetBlocks) []byte {
	var b []byte
	b = appendVarint(b, getBlocksFieldStart, g.StartHeight)
	b = appendVarint(b, getBlocksFieldCount, uint64(g.Count))
	return b
}

func decodeGetBlocks(data []byte) (*GetBlocks, error) {
	g := &GetBlocks{}
	return g, walkFields(data, func(num protowire.Number, typ protowire.Type, val []byte, u uint64) error {
		switch num {
		case getBlocksFieldStart:
			g.StartHeight = u
		case getBlocksFieldCount:
			g.Count = uint32(u)
		}
		return nil
	})
}

// ── low-level helpers ────────────────────────────────────────────────

func appendVarint(b []byte, field protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, field, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, field protowire.Number, v bool) []byte {
	var u uint64
	if v {
		u = 1
	}
	return appendVarint(b, field, u)
}

func appendBytes(b []byte, field protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, field protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	return appendBytes(b, field, []byte(v))
}

// walkFields iterates every top-level (field, wiretype, value) triple
// in a flat protobuf message, handing varint fields their decoded
// uint64 in u and everything else its raw bytes in val.
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, val []byte, u uint64) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			u, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return fmt.Errorf("consume varint: %w", protowire.ParseError(m))
			}
			data = data[m:]
			if err := fn(num, typ, nil, u); err != nil {
				return err
			}
		case protowire.BytesType:
			val, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return fmt.Errorf("consume bytes: %w", protowire.ParseError(m))
			}
			data = data[m:]
			if err := fn(num, typ, val, 0); err != nil {
				return err
			}
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return fmt.Errorf("consume field: %w", protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return nil
}
