// Package hashing derives the value stored in place of a session token.
//
// The digest is murmur3 (128-bit). murmur3 is NOT a cryptographic hash and
// gives no preimage or collision resistance against an attacker; it only keeps
// the literal token out of the store. Do not use it as a security boundary.
package hashing

import (
	"encoding/binary"
	"encoding/hex"
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultSeed is the seed used by the service. Changing it invalidates
// every stored session digest.
const DefaultSeed uint32 = 0x5eed

type TokenDigester struct {
	seed       uint32
	hasherPool sync.Pool
}

func NewTokenDigester(seed uint32) *TokenDigester {
	d := &TokenDigester{seed: seed}
	d.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New128WithSeed(seed)
		},
	}
	return d
}

// Digest returns the 32-character hex digest of token.
func (d *TokenDigester) Digest(token string) string {
	hasher := d.hasherPool.Get().(murmur3.Hash128)
	defer d.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(token))
	h1, h2 := hasher.Sum128()

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], h1)
	binary.BigEndian.PutUint64(buf[8:], h2)
	return hex.EncodeToString(buf[:])
}

// Seed returns the seed the digester was built with.
func (d *TokenDigester) Seed() uint32 {
	return d.seed
}
