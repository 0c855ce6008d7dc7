// Package cborkey derives canonical keys for opaque composite inputs by
// encoding them with RFC 8949 core deterministic CBOR and hashing the bytes.
// Plug into revcache.Options.OpaqueKeyer so struct inputs get real identity
// instead of the shared opaque sentinel.
package cborkey

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/fxamacker/cbor/v2"
	"github.com/unkn0wn-root/revcache"
)

// Keyer hashes the deterministic CBOR encoding of an input. The zero value
// is NOT ready to use. Construct with New or Must.
type Keyer struct {
	enc cbor.EncMode
}

var _ revcache.Keyer = Keyer{}

// New constructs the keyer with CoreDetEncOptions so byte output, and hence
// the key, is stable across processes. Time values encode as RFC3339Nano.
func New() (Keyer, error) {
	eo := cbor.CoreDetEncOptions()
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err != nil {
		return Keyer{}, err
	}
	return Keyer{enc: em}, nil
}

// Must is like New but panics on error. Handy for package-level variables.
func Must() Keyer {
	k, err := New()
	if err != nil {
		panic(err)
	}
	return k
}

// Key returns "cbor:" + the first 16 hex chars of SHA-256 over the
// deterministic encoding.
func (k Keyer) Key(input any) (string, error) {
	b, err := k.enc.Marshal(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return "cbor:" + hex.EncodeToString(sum[:8]), nil
}
