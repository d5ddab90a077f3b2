// Package keygen derives RSA key pairs: two random primes far enough
// apart, the public and private exponents, and the CRT helper used by
// the decrypt shortcut.
package keygen

import (
	"fmt"

	"krypt.co/packetkit/mpint"
	"krypt.co/packetkit/primes"
)

var ErrKeyFailed = fmt.Errorf("generated key failed its self-test")

// RandSource is the random supply for prime generation.  Load moves
// fresh entropy into a recyclable buffer and Flush destroys it; the
// entropy pool in the rng package satisfies this.
type RandSource interface {
	Byte() byte
	Load(bits int) int
	Flush()
}

// Key holds all components of an RSA key pair.  P is the smaller
// prime; U is the inverse of P mod Q.
type Key struct {
	N, E, D, P, Q, U mpint.Reg
}

// Burn destroys all key material.
func (k *Key) Burn() {
	mpint.Burn(k.N)
	mpint.Burn(k.E)
	mpint.Burn(k.D)
	mpint.Burn(k.P)
	mpint.Burn(k.Q)
	mpint.Burn(k.U)
}

func next3(i int) int {
	if i == 2 {
		return 0
	}
	return i + 1
}

func prev3(i int) int {
	if i == 0 {
		return 2
	}
	return i - 1
}

// GCD computes the greatest common divisor of a and n via Euclid's
// algorithm.
func GCD(c *mpint.Ctx, result, a, n mpint.Reg) {
	var g [3]mpint.Reg
	for i := range g {
		g[i] = mpint.NewReg()
	}
	c.Move(g[0], n)
	c.Move(g[1], a)

	i := 1
	for !c.TestEq(g[i], 0) {
		c.Mod(g[next3(i)], g[prev3(i)], g[i])
		i = next3(i)
	}
	c.Move(result, g[prev3(i)])
	for j := range g {
		mpint.Burn(g[j])
	}
}

// Inv computes x such that (a*x) mod n = 1, for 0 < a < n, by the
// extended Euclid algorithm.
func Inv(c *mpint.Ctx, x, a, n mpint.Reg) {
	y := mpint.NewReg()
	temp := mpint.NewReg()
	var g, v [3]mpint.Reg
	for i := range g {
		g[i] = mpint.NewReg()
		v[i] = mpint.NewReg()
	}
	c.Move(g[0], n)
	c.Move(g[1], a)
	c.Init(v[0], 0)
	c.Init(v[1], 1)

	i := 1
	for !c.TestEq(g[i], 0) {
		c.Udiv(g[next3(i)], y, g[prev3(i)], g[i])
		c.Mult(temp, y, v[i])
		c.Move(v[next3(i)], v[prev3(i)])
		c.Sub(v[next3(i)], temp)
		i = next3(i)
	}
	c.Move(x, v[prev3(i)])
	if c.TstMinus(x) {
		c.Add(x, n)
	}
	for j := range g {
		mpint.Burn(g[j])
		mpint.Burn(v[j])
	}
	mpint.Burn(y)
	mpint.Burn(temp)
}

// deriveKeys fills in n, e, d, and u from the primes p and q.  The
// working precision must already cover n.  The search for e starts at
// an ebits-sized odd number; 5 bits yields an e as small as 17.
func deriveKeys(c *mpint.Ctx, k *Key, ebits int) {
	ptemp := mpint.NewReg()
	qtemp := mpint.NewReg()
	phi := mpint.NewReg()
	f := mpint.NewReg()
	g := mpint.NewReg()
	defer func() {
		mpint.Burn(ptemp)
		mpint.Burn(qtemp)
		mpint.Burn(phi)
		mpint.Burn(f)
		mpint.Burn(g)
	}()

	if c.Compare(k.P, k.Q) >= 0 { // ensure p<q for computing u
		k.P, k.Q = k.Q, k.P
	}

	c.Move(ptemp, k.P)
	c.Move(qtemp, k.Q)
	c.Dec(ptemp)
	c.Dec(qtemp)
	c.Mult(phi, ptemp, qtemp) // phi(n) = (p-1)*(q-1)
	GCD(c, g, ptemp, qtemp)   // G(n) = gcd(p-1,q-1)
	c.Udiv(ptemp, qtemp, phi, g)
	c.Move(f, qtemp) // F(n) = phi(n)/G(n)

	// Search odd e's until gcd(e,phi) = 1.
	if ebits == 0 {
		ebits = 5
	}
	if limit := c.CountBits(phi) - 1; ebits > limit {
		ebits = limit
	}
	if ebits < 2 {
		ebits = 2
	}
	c.Init(k.E, 0)
	c.SetBit(k.E, ebits-1)
	k.E[0] |= 1
	c.Dec(k.E)
	c.Dec(k.E) // precompensate for the preincrements below
	for {
		c.Inc(k.E)
		c.Inc(k.E)
		GCD(c, ptemp, k.E, phi)
		if c.TestEq(ptemp, 1) {
			break
		}
	}

	Inv(c, k.D, k.E, f)    // (e*d) mod F(n) = 1
	Inv(c, k.U, k.P, k.Q)  // (p*u) mod q = 1, with p<q
	c.Mult(k.N, k.P, k.Q)  // n = p*q
}

// Generate produces a key pair with a keybits-sized modulus.  It
// adjusts the working precision for the modulus, searches out two
// primes of guaranteed bit length that are not too close together,
// derives the remaining components, and self-tests the pair by
// signing and verifying a known value.
func Generate(c *mpint.Ctx, keybits, ebits int, src RandSource) (k *Key, err error) {
	slop := mpint.SlopBits
	if keybits > mpint.MaxBitPrecision-slop {
		keybits = mpint.MaxBitPrecision - slop
	}
	if keybits < mpint.UnitSize*2 {
		keybits = mpint.UnitSize * 2
	}
	if keybits < 32 { // minimum preblocking overhead
		keybits = 32
	}

	oldprec := c.Precision()
	c.SetPrecision(mpint.BitsToUnits(keybits + slop))
	defer c.SetPrecision(oldprec)

	k = &Key{
		N: mpint.NewReg(), E: mpint.NewReg(), D: mpint.NewReg(),
		P: mpint.NewReg(), Q: mpint.NewReg(), U: mpint.NewReg(),
	}
	defer func() {
		if err != nil {
			k.Burn()
		}
	}()

	src.Flush() // ensure the recycled random pool starts empty

	const separation = 2 // minimum size difference between p and q
	pbits := (keybits - separation) / 2
	qbits := keybits - pbits

	// A prime whose length exactly fills a unit wastes a whole unit
	// of precision in the reduction loop, so trim a bit.
	qtrim := (qbits % mpint.UnitSize) + 1
	if qtrim <= separation/2 {
		pbits += qtrim
	}
	if pbits%mpint.UnitSize == 0 {
		pbits--
	}

	src.Load(pbits)
	if err = primes.RandomPrime(c, k.P, pbits, src); err != nil {
		return
	}

	qbits = keybits - c.CountBits(k.P)
	if qbits%mpint.UnitSize == 0 {
		qbits--
	}

	src.Load(qbits)
	for {
		if err = primes.RandomPrime(c, k.Q, qbits, src); err != nil {
			return
		}
		// keep trying q's until one lands far enough from p
		c.Move(k.U, k.Q) // scratch
		tooClose := false
		if c.Sub(k.U, k.P) {
			c.Neg(k.U)
			tooClose = c.CountBits(k.U) < c.CountBits(k.P)-7
		} else {
			tooClose = c.CountBits(k.U) < c.CountBits(k.Q)-7
		}
		if !tooClose {
			break
		}
	}

	if c.Compare(k.P, k.Q) >= 0 {
		k.P, k.Q = k.Q, k.P
	}

	deriveKeys(c, k, ebits)
	src.Flush()

	// The pair had better round-trip a signature.
	m := mpint.NewReg()
	sig := mpint.NewReg()
	defer func() {
		mpint.Burn(m)
		mpint.Burn(sig)
	}()
	c.Init(m, 0x1234)
	if err = c.CRTDecrypt(sig, m, k.D, k.P, k.Q, k.U); err != nil {
		return
	}
	c.Init(m, 0)
	if err = c.ModExp(m, sig, k.E, k.N); err != nil {
		return
	}
	if !c.TestEq(m, 0x1234) {
		err = ErrKeyFailed
		return
	}
	return
}
