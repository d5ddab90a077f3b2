// Package primes searches for large probable primes: a direct table
// lookup for small candidates, trial division against the small-prime
// table, and a Fermat witness test for everything the sieve lets
// through.  The sequential search keeps a vector of remainders of the
// starting point modulo each table prime so that stepping by two costs
// only 16-bit arithmetic.
package primes

import (
	"fmt"

	"krypt.co/packetkit/mpint"
)

var (
	ErrNoPrimeFound = fmt.Errorf("prime search exhausted its candidate range")
	ErrNoSuspects   = fmt.Errorf("prime sieve produced no suspects; random source is broken")
)

// ByteSource supplies random bytes for candidate generation.
type ByteSource interface {
	Byte() byte
}

var lastTablePrime = primeTable[len(primeTable)-1]

// fermat applies Fermat's theorem with four small witness bases: for
// any x, x^(p-1) mod p != 1 proves p composite.  Each witness catches
// nearly all composites, so four are plenty.
func fermat(c *mpint.Ctx, p mpint.Reg) bool {
	x := mpint.NewReg()
	isOne := mpint.NewReg()
	pminus1 := mpint.NewReg()
	defer func() {
		mpint.Burn(x)
		mpint.Burn(isOne)
		mpint.Burn(pminus1)
	}()

	c.Move(pminus1, p)
	c.Dec(pminus1)
	for i := 0; i < 4; i++ {
		c.Init(x, primeTable[i])
		if err := c.ModExp(isOne, x, pminus1, p); err != nil {
			return false
		}
		if !c.TestEq(isOne, 1) {
			return false
		}
	}
	return true
}

// IsPrime returns a probabilistic primality answer.  Candidates within
// the table are resolved exactly; 32-bit candidates whose square root
// does not exceed the largest table prime are fully sieved up to that
// square root, which is also exact; all other candidates are sieved by
// the whole table and then witness-tested.
func IsPrime(c *mpint.Ctx, p mpint.Reg) bool {
	if c.Significance(p) <= 1 {
		if p[0] <= lastTablePrime {
			for _, tp := range primeTable {
				if tp == p[0] {
					return true
				}
				if tp > p[0] {
					return false
				}
			}
		}
	}

	if p[0]&1 == 0 {
		return false // divisible by 2
	}
	if c.TstMinus(p) {
		return false
	}

	var sqrtP uint16
	if c.Significance(p) <= 2 { // p fits 32 bits
		sqrtReg := mpint.NewReg()
		if c.Sqrt(sqrtReg, p) == 0 {
			return false // perfect square
		}
		sqrtP = sqrtReg[0]
	} else {
		sqrtP = lastTablePrime // do the entire sieve
	}

	for _, tp := range primeTable[1:] { // candidate is odd, start at 3
		if c.ShortMod(p, tp) == 0 {
			return false
		}
		if tp > sqrtP {
			return true // fully sieved
		}
	}

	return fermat(c, p)
}

// buildSieve fills remainders[i] with p mod primeTable[i], relative to
// the odd starting point p.
func buildSieve(c *mpint.Ctx, p mpint.Reg, remainders []uint16) {
	for i := 1; i < len(primeTable); i++ {
		remainders[i] = c.ShortMod(p, primeTable[i])
	}
}

// fastSieve reports whether p+pdelta survives trial division by every
// table prime, using only the precomputed remainder vector.
func fastSieve(pdelta uint16, remainders []uint16) bool {
	for i := 1; i < len(primeTable); i++ {
		if (uint32(pdelta)+uint32(remainders[i]))%uint32(primeTable[i]) == 0 {
			return false
		}
	}
	return true
}

// NextPrime replaces p with the next higher probable prime.  The
// search is abandoned after roughly 4*bitlen(p) candidates: with
// suspects seen it reports ErrNoPrimeFound, with none it reports
// ErrNoSuspects.
func NextPrime(c *mpint.Ctx, p mpint.Reg) error {
	c.Inc(p) // the NEXT prime, noninclusive

	if c.Significance(p) <= 1 {
		for _, tp := range primeTable {
			if tp >= p[0] {
				c.Init(p, tp)
				return nil
			}
		}
	}

	if c.TstMinus(p) {
		c.Init(p, 2) // next prime above a negative is 2
		return nil
	}

	p[0] |= 1 // make the candidate odd

	oldprec := c.Precision()
	// a few extra bits of elbow room for the witness tests
	c.SetPrecision(mpint.BitsToUnits(c.CountBits(p) + 4 + mpint.SlopBits))
	defer c.SetPrecision(oldprec)

	remainders := make([]uint16, len(primeTable))
	buildSieve(c, p, remainders)
	defer func() {
		for i := range remainders {
			remainders[i] = 0
		}
	}()

	var pdelta uint16
	rng := uint16(8 * c.Precision() * mpint.UnitSize) // how far to search: about 4*bits odd candidates
	suspects := 0
	for {
		if fastSieve(pdelta, remainders) {
			suspects++
			if fermat(c, p) {
				return nil
			}
		}
		pdelta += 2
		c.Inc(p)
		c.Inc(p)
		if pdelta > rng {
			break
		}
	}

	if suspects < 1 {
		return ErrNoSuspects
	}
	return ErrNoPrimeFound
}

// RandomBits fills p with exactly nbits of random bits.
func RandomBits(c *mpint.Ctx, p mpint.Reg, nbits int, src ByteSource) {
	c.Init(p, 0)
	nbytes := (nbits + 7) / 8
	for i := 0; i < nbytes; i++ {
		p[i/2] |= uint16(src.Byte()) << uint(8*(i%2))
	}
	// clear the unused top bits
	for i := nbits; i < nbytes*8; i++ {
		c.ClrBit(p, i)
	}
}

// RandomPrime makes a probable prime with exactly nbits significant
// bits.  The top two bits are forced on so the product of two such
// primes has a deterministic bit length; the bottom bit is forced on
// to make the candidate odd.
func RandomPrime(c *mpint.Ctx, p mpint.Reg, nbits int, src ByteSource) error {
	RandomBits(c, p, nbits-2, src)
	c.SetBit(p, nbits-1)
	c.SetBit(p, nbits-2)
	return NextPrime(c, p)
}
