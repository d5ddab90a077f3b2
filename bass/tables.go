package bass

// A permutation table holds the values 0-255 in random order.  Tables
// are built by rejection sampling: bytes drawn from the generator are
// appended only if not already present.  So many generator outputs get
// discarded near the end that the generator's output distribution is
// obscured from an attacker holding the tables.

const maxTics = 16383 // lose patience with the LFSR after this long

// buildtbl fills table with a fresh random permutation.  rselect
// chooses the generator: the two-tier cipher-driven generator when
// true, the LFSR otherwise.
func (c *Cipher) buildtbl(table *[256]byte, rselect bool) {
	var notdup [256]bool
	for i := range notdup {
		notdup[i] = true
	}
	tlen := 0
	randtics := maxTics
	for tlen < 256 {
		var b byte
		if rselect {
			b = c.rb.next()
		} else {
			b = c.lfsrByte()
		}
		if notdup[b] {
			table[tlen] = b
			tlen++
			notdup[b] = false
		}
		randtics--
		if randtics == 0 {
			// a stuck generator gets hit upside the head
			stompLFSR(c.lfsr)
			randtics = maxTics
		}
	}
	if !rselect {
		// discard current LFSR buffer contents to confuse an attacker
		c.rtail = 0
	}
}

// invert byte-wise inverts a permutation table.
func invert(in, out *[256]byte) {
	for i := 0; i <= 255; i++ {
		out[in[i]] = byte(i)
	}
}

// transpose permutes in through table into out.
func transpose(in, out, table *[256]byte) {
	for i := 0; i < 256; i++ {
		out[i] = in[table[i]]
	}
}

// halfmask reports whether exactly 4 of the 8 bits in b are set.
func halfmask(b byte) bool {
	nbits := 0
	for mask := byte(0x80); mask != 0; mask >>= 1 {
		if b&mask != 0 {
			nbits++
		}
	}
	return nbits == 4
}

// getmask returns a table entry with half its bits set, for 2-way
// shredding: entry 0 if it qualifies, otherwise the first qualifying
// entry found scanning down from entry 255.
func getmask(table *[256]byte) byte {
	if halfmask(table[0]) {
		return table[0]
	}
	for i := 255; i >= 1; i-- {
		if halfmask(table[i]) {
			return table[i]
		}
	}
	return 0x0f // never gets here
}

// bldtbls generates the full set of permutation tables.  hardrand
// selects the cipher-driven generator; decryp inverts the finished
// tables.  Inversion must wait until every table is built, because
// the two-tier generator runs off the working set.
func (c *Cipher) bldtbls(hardrand, decryp bool) {
	var tmp, mixer [256]byte

	c.buildtbl(&mixer, hardrand)

	for i := 0; i < NTables; i++ {
		c.buildtbl(&tmp, hardrand)
		if !c.shred8 {
			// 2-way shredding needs a half-set bitmask per table
			c.bitmasks[i] = getmask(&tmp)
		}
		transpose(&tmp, c.tlist[i], &mixer)
	}

	if decryp {
		for i := 0; i < NTables; i++ {
			invert(c.tlist[i], &tmp)
			*c.tlist[i] = tmp
		}
	}

	wipe(&tmp)
	wipe(&mixer)
}

func wipe(b *[256]byte) {
	for i := range b {
		b[i] = 0
	}
}
