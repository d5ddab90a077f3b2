package mpint

// The multiply-and-reduce at the heart of modexp works a unit at a
// time: the product is shifted a whole unit left, preshifted images of
// the multiplicand are conditionally added per multiplier bit, and the
// product is brought back under the modulus by trial subtraction
// against UnitSize+1 preshifted images of the modulus.  The working
// precision must include SlopBits of headroom beyond the modulus.

type stagedModulus struct {
	moduli [UnitSize + 1]Reg // moduli[0] aliases the caller's modulus
	mpd    [UnitSize]Reg     // multiplicand images, mpd[0] set per call
}

func (c *Ctx) stageModulus(n Reg) *stagedModulus {
	st := &stagedModulus{}
	st.moduli[0] = n
	for i := 1; i <= UnitSize; i++ {
		st.moduli[i] = make(Reg, c.prec)
		c.Move(st.moduli[i], st.moduli[i-1])
		c.ShiftLeft(st.moduli[i])
	}
	for i := 1; i < UnitSize; i++ {
		st.mpd[i] = make(Reg, c.prec)
	}
	return st
}

// burn destroys the staged tables so no key-dependent residue is left
// behind after a modexp.
func (st *stagedModulus) burn() {
	for i := 1; i <= UnitSize; i++ {
		Burn(st.moduli[i])
	}
	for i := 1; i < UnitSize; i++ {
		Burn(st.mpd[i])
	}
}

// lshiftUnit shifts r one whole unit to the left.
func (c *Ctx) lshiftUnit(r Reg) {
	for i := c.prec - 1; i > 0; i-- {
		r[i] = r[i-1]
	}
	r[0] = 0
}

// modmult computes prod = (multiplicand*multiplier) mod the staged
// modulus.  Both arguments must already be less than the modulus.
func (c *Ctx) modmult(prod, multiplicand, multiplier Reg, st *stagedModulus) {
	st.mpd[0] = multiplicand
	for i := 1; i < UnitSize; i++ {
		c.Move(st.mpd[i], st.mpd[i-1])
		c.ShiftLeft(st.mpd[i])
	}

	c.Init(prod, 0)
	mprec := c.Significance(multiplier)
	if mprec == 0 {
		return
	}
	for j := mprec - 1; j >= 0; j-- {
		c.lshiftUnit(prod)
		w := multiplier[j]
		for bit := UnitSize - 1; bit >= 0; bit-- {
			if w&(1<<uint(bit)) != 0 {
				c.Add(prod, st.mpd[bit])
			}
		}
		for i := UnitSize; i >= 0; i-- {
			if c.Compare(prod, st.moduli[i]) >= 0 {
				c.Sub(prod, st.moduli[i])
			}
		}
	}
}

// ModExp computes expout = expin^exponent mod modulus by left-to-right
// binary exponentiation with modular squarings.  Both expin and
// exponent must be less than the modulus.  The working precision is
// lifted to the modulus size plus SlopBits for the duration and
// restored before return.
func (c *Ctx) ModExp(expout, expin, exponent, modulus Reg) error {
	c.Init(expout, 1)
	if c.TestEq(exponent, 0) {
		if c.TestEq(expin, 0) {
			return ErrZeroToZero
		}
		return nil
	}
	if c.TestEq(modulus, 0) {
		return ErrZeroModulus
	}
	if c.TstMinus(modulus) {
		return ErrNegativeModulus
	}
	if c.Compare(expin, modulus) >= 0 {
		return ErrOutOfRange
	}
	if c.Compare(exponent, modulus) >= 0 {
		return ErrOutOfRange
	}

	oldprec := c.prec
	c.SetPrecision(BitsToUnits(c.CountBits(modulus) + SlopBits))
	st := c.stageModulus(modulus)
	product := make(Reg, c.prec)

	bits := c.CountBits(exponent)
	// The first squaring and multiply fall out: expout = expin.
	c.Move(expout, expin)
	for i := bits - 2; i >= 0; i-- {
		c.modmult(product, expout, expout, st)
		c.Move(expout, product)
		if c.TstBit(exponent, i) {
			c.modmult(product, expout, expin, st)
			c.Move(expout, product)
		}
	}

	Burn(product)
	st.burn()
	c.SetPrecision(oldprec)
	return nil
}

// ModMult computes prod = (a*b) mod m under the same contract as
// ModExp's inner step, staging and burning the modulus images for
// this one call.
func (c *Ctx) ModMult(prod, a, b, m Reg) error {
	if c.TestEq(m, 0) {
		return ErrZeroModulus
	}
	if c.TstMinus(m) {
		return ErrNegativeModulus
	}
	if c.Compare(a, m) >= 0 || c.Compare(b, m) >= 0 {
		return ErrOutOfRange
	}
	oldprec := c.prec
	c.SetPrecision(BitsToUnits(c.CountBits(m) + SlopBits))
	st := c.stageModulus(m)
	c.modmult(prod, a, b, st)
	st.burn()
	c.SetPrecision(oldprec)
	return nil
}
