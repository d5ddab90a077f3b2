// Package bass implements the 256-byte-block symmetric cipher and its
// cipher feedback mode.  The key is a control byte followed by up to
// 254 key bytes; the control byte selects the number of rounds, the
// shredding mode, and the key schedule regeneration policy.
//
// Control byte layout:
//
//	bits 0-2  number of rounds through the block function (0-7 means 1-8)
//	bit 3     use 8-way bit shredding instead of 2-way half-mask shredding
//	bit 4     regenerate the tables using the cipher itself as generator
//	bit 5     regenerate the tables before every block (disables bit 4,
//	          and costs CFB its self-synchronizing recovery)
//	bits 6-7  reserved
package bass

import (
	"fmt"
)

const (
	// BlockSize is the cipher block size in bytes.
	BlockSize = 256

	// MaxKeyLen bounds the key body length.
	MaxKeyLen = 254

	// NTables is the number of permutation tables in a key schedule.
	NTables = 8
)

var ErrKeyTooShort = fmt.Errorf("cipher key needs a control byte and at least one key byte")

// Cipher is a keyed context: eight byte-permutation tables, the
// half-set bitmasks for 2-way shredding, the LFSR that feeds the
// table builder, and the flags decoded from the key control byte.
//
// Save returns a copy sharing the permutation tables with the
// original; Clone deep-copies them.  Contexts sharing tables must not
// mutate one another (the rerand mode mutates tables per block).
type Cipher struct {
	tlist    [NTables]*[256]byte
	bitmasks [NTables]byte
	nrounds  int
	shred8   bool // 8-way bit shredding instead of 2-way
	hardrand bool // regenerate tables with the cipher's own output
	rerand   bool // replenish tables with every block
	uncryp   bool // decrypting

	lfsr  *[256]byte
	rtail byte

	rb *brand // cipher-driven generator, only while keying
}

// New sets up a key schedule.  key holds the control byte followed by
// the key body; decrypt selects inverted tables.
func New(key []byte, decrypt bool) (c *Cipher, err error) {
	if len(key) < 2 {
		err = ErrKeyTooShort
		return
	}
	if len(key) > MaxKeyLen+1 {
		key = key[:MaxKeyLen+1]
	}

	c = &Cipher{lfsr: new([256]byte)}
	for i := range c.tlist {
		c.tlist[i] = new([256]byte)
	}

	c.nrounds = int(key[0]&0x07) + 1
	c.shred8 = key[0]&0x08 != 0
	c.rerand = key[0]&0x20 != 0
	c.hardrand = key[0]&0x10 != 0 && !c.rerand

	initLFSR(key[1:], c.lfsr, &c.rtail)

	// throwaway table to prime the LFSR
	c.buildtbl(c.tlist[0], false)

	if !c.rerand { // pointless if they are rebuilt per block anyway
		c.bldtbls(false, decrypt && !c.hardrand)
	}

	if c.hardrand {
		// Second tier: rebuild the tables with the cipher running
		// off the first set, forming a progressively better
		// generator.
		c.rb = newBrand(c, key[1:])
		c.bldtbls(true, decrypt)
		c.rb.close()
		c.rb = nil
	}

	c.uncryp = decrypt
	return
}

// Save returns a context copy that shares the permutation tables by
// reference.  Cheap, but the caller must not let one context rebuild
// tables while the other is live.
func (c *Cipher) Save() *Cipher {
	cc := *c
	return &cc
}

// Clone returns a deep copy with its own tables.
func (c *Cipher) Clone() *Cipher {
	cc := *c
	cc.lfsr = new([256]byte)
	*cc.lfsr = *c.lfsr
	for i := range cc.tlist {
		cc.tlist[i] = new([256]byte)
		*cc.tlist[i] = *c.tlist[i]
	}
	return &cc
}

// Close destroys the key schedule.
func (c *Cipher) Close() {
	for i := range c.tlist {
		if c.tlist[i] != nil {
			wipe(c.tlist[i])
		}
	}
	if c.lfsr != nil {
		wipe(c.lfsr)
	}
	for i := range c.bitmasks {
		c.bitmasks[i] = 0
	}
}

// shred1bit tears each byte into 8 bits and distributes the bits via
// 8 permutation vectors.
func (c *Cipher) shred1bit(in, out *[256]byte) {
	for i := range out {
		out[i] = 0
	}
	bitmask := byte(0x80)
	for j := 0; j <= 7; j++ {
		table := c.tlist[j]
		for i := 0; i < 256; i++ {
			out[table[i]] |= in[i] & bitmask
		}
		bitmask >>= 1
	}
}

// shred4bit tears each byte in half along bitmask and distributes the
// halves via two permutation vectors.
func shred4bit(in, out, t1, t2 *[256]byte, bitmask byte) {
	for i := 0; i < 256; i++ {
		out[t1[i]] = in[i] & bitmask
	}
	bitmask = ^bitmask
	for i := 0; i < 256; i++ {
		out[t2[i]] |= in[i] & bitmask
	}
}

// multilookup substitutes the block through 8 rotating tables, 32
// bytes per table.
func (c *Cipher) multilookup(in, out *[256]byte, ti byte) {
	k := 0
	for j := 0; j < 8; j++ {
		table := c.tlist[ti&7]
		ti++
		for i := 0; i < 32; i++ {
			out[k] = table[in[k]]
			k++
		}
	}
}

// xortable inverts half the bits of the block via a random table.
func xortable(block, table *[256]byte) {
	for i := 0; i < 256; i++ {
		block[i] ^= table[i]
	}
}

// ixortable is the inverse of xortable for an inverted table.
func ixortable(block, table *[256]byte) {
	for i := 0; i <= 255; i++ {
		block[table[i]] ^= byte(i)
	}
}

// rake disperses intersymbol dependencies: a forward cumulative xor
// followed by a backward cumulative add.  Not keyed.
func rake(block *[256]byte) {
	for i := 1; i <= 255; i++ {
		block[i] ^= block[i-1]
	}
	for i := 254; i >= 0; i-- {
		block[i] += block[i+1]
	}
}

// unrake is the inverse of rake.
func unrake(block *[256]byte) {
	for i := 0; i <= 254; i++ {
		block[i] -= block[i+1]
	}
	for i := 255; i >= 1; i-- {
		block[i] ^= block[i-1]
	}
}

func f8(i, j int) byte { return byte((i + j) & 7) }

// Block enciphers (or deciphers, per the keying direction) one
// 256-byte block.
func (c *Cipher) Block(in, out *[256]byte) {
	if c.rerand { // dynamic replenishment of tables
		c.bldtbls(false, c.uncryp)
	}

	var tmp [256]byte
	*out = *in

	if c.uncryp {
		for i := c.nrounds - 1; i >= 0; i-- {
			c.multilookup(out, &tmp, f8(i, 2))
			unrake(&tmp)
			if c.shred8 {
				c.shred1bit(&tmp, out)
			} else {
				shred4bit(&tmp, out, c.tlist[f8(i, 1)], c.tlist[f8(i, 5)],
					c.bitmasks[f8(i, 3)])
			}
			ixortable(out, c.tlist[f8(i, 0)])
		}
	} else {
		for i := 0; i < c.nrounds; i++ {
			xortable(out, c.tlist[f8(i, 0)])
			if c.shred8 {
				c.shred1bit(out, &tmp)
			} else {
				shred4bit(out, &tmp, c.tlist[f8(i, 1)], c.tlist[f8(i, 5)],
					c.bitmasks[f8(i, 3)])
			}
			rake(&tmp)
			c.multilookup(&tmp, out, f8(i, 2))
		}
	}
	wipe(&tmp)
}
