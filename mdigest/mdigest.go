// Package mdigest produces the 128-bit one-way hash that signatures
// are computed over: MD4, processing its input in 512-bit blocks with
// bit-length padding.
package mdigest

import (
	"hash"
	"io"

	"golang.org/x/crypto/md4"
)

// Size is the digest length in bytes.
const Size = 16

// AlgorithmByte identifies the digest algorithm in message digest
// packets.
const AlgorithmByte = 1

// New returns a fresh digest state.
func New() hash.Hash { return md4.New() }

// Stream digests everything readable from r.
func Stream(r io.Reader) (digest [Size]byte, err error) {
	h := md4.New()
	if _, err = io.Copy(h, r); err != nil {
		return
	}
	copy(digest[:], h.Sum(nil))
	return
}

// Buffer digests a byte slice.
func Buffer(b []byte) (digest [Size]byte) {
	h := md4.New()
	h.Write(b)
	copy(digest[:], h.Sum(nil))
	return
}
