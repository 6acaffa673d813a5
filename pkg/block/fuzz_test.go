package block

import (
	"encoding/json"
	"testing"
)

// FuzzBlockUnmarshal checks that arbitrary JSON input never panics when
// unmarshaled into a Block and run through Validate/ComputeHash.
func FuzzBlockUnmarshal(f *testing.F) {
	f.Add([]byte(`{"header":{"index":0,"previous_hash":"","merkle_root":"","timestamp":1000,"difficulty":0,"nonce":0},"transactions":[]}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"header":null}`))
	f.Add([]byte(`{"header":{"index":99999999999},"transactions":[{}]}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var blk Block
		if err := json.Unmarshal(data, &blk); err != nil {
			return
		}
		blk.Validate(testPrefix)
		if blk.Header != nil {
			blk.ComputeHash()
			blk.GenesisHash()
		}
	})
}

// FuzzHeaderUnmarshal checks that arbitrary JSON input never panics when
// unmarshaled into a Header.
func FuzzHeaderUnmarshal(f *testing.F) {
	f.Add([]byte(`{"index":1,"timestamp":1000,"difficulty":0}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"difficulty":4294967295}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var h Header
		json.Unmarshal(data, &h)
	})
}
