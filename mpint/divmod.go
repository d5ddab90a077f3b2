package mpint

// Udiv divides dividend by divisor, treating both as positive, and
// leaves the quotient and remainder in the supplied registers.
func (c *Ctx) Udiv(remainder, quotient, dividend, divisor Reg) error {
	if c.TestEq(divisor, 0) {
		return ErrZeroDivisor
	}
	c.Init(remainder, 0)
	c.Init(quotient, 0)
	bits := c.CountBits(dividend)
	for i := bits - 1; i >= 0; i-- {
		c.RotateLeft(remainder, c.TstBit(dividend, i))
		if c.Compare(remainder, divisor) >= 0 {
			c.Sub(remainder, divisor)
			c.SetBit(quotient, i)
		}
	}
	return nil
}

// Div is the signed divide; either or both operands may be negative.
// The caller's operands are left unmodified.
func (c *Ctx) Div(remainder, quotient, dividend, divisor Reg) error {
	dvdsign := c.TstMinus(dividend)
	dsign := c.TstMinus(divisor)
	if dvdsign {
		c.Neg(dividend)
	}
	if dsign {
		c.Neg(divisor)
	}
	err := c.Udiv(remainder, quotient, dividend, divisor)
	if dvdsign {
		c.Neg(dividend)
	}
	if dsign {
		c.Neg(divisor)
	}
	if err != nil {
		return err
	}
	if dvdsign {
		c.Neg(remainder)
	}
	if dvdsign != dsign {
		c.Neg(quotient)
	}
	return nil
}

// Mod leaves dividend mod divisor in remainder, treating both
// operands as positive.
func (c *Ctx) Mod(remainder, dividend, divisor Reg) error {
	if c.TestEq(divisor, 0) {
		return ErrZeroDivisor
	}
	c.Init(remainder, 0)
	bits := c.CountBits(dividend)
	for i := bits - 1; i >= 0; i-- {
		c.RotateLeft(remainder, c.TstBit(dividend, i))
		if c.Compare(remainder, divisor) >= 0 {
			c.Sub(remainder, divisor)
		}
	}
	return nil
}

// ShortMod returns the 16-bit remainder of an unsigned divide by a
// short divisor.  This is the workhorse of the prime sieve.  A zero
// divisor returns 0xffff.
func (c *Ctx) ShortMod(dividend Reg, divisor uint16) uint16 {
	if divisor == 0 {
		return 0xffff
	}
	var remainder uint32
	bits := c.CountBits(dividend)
	for i := bits - 1; i >= 0; i-- {
		remainder <<= 1
		if c.TstBit(dividend, i) {
			remainder++
		}
		if remainder >= uint32(divisor) {
			remainder -= uint32(divisor)
		}
	}
	return uint16(remainder)
}

// Mult computes prod = multiplicand * multiplier, truncated to the
// working precision.  Interleaves a unit-wide comb so the result is
// congruent mod 2^(16*precision), which keeps two's complement
// operands consistent.
func (c *Ctx) Mult(prod, multiplicand, multiplier Reg) error {
	p := c.prec
	tmp := make(Reg, p)
	for i := 0; i < p; i++ {
		a := uint32(multiplicand[i])
		if a == 0 {
			continue
		}
		var carry uint32
		for j := 0; i+j < p; j++ {
			t := uint32(tmp[i+j]) + a*uint32(multiplier[j]) + carry
			tmp[i+j] = uint16(t)
			carry = t >> 16
		}
	}
	copy(prod[:p], tmp)
	Burn(tmp)
	return nil
}

// Sqrt leaves the integer square root of dividend in quotient.
// Returns -1 on a negative dividend, 0 for a perfect square, 1
// otherwise.
func (c *Ctx) Sqrt(quotient, dividend Reg) int {
	c.Init(quotient, 0)
	if c.TstMinus(dividend) {
		c.Dec(quotient) // quotient = -1
		return -1
	}
	dvdbits := c.CountBits(dividend)
	if dvdbits == 0 {
		return 0
	}
	if dvdbits == 1 {
		c.Init(quotient, 1)
		return 0
	}
	qbits := (dvdbits + 1) / 2
	square := make(Reg, c.prec)
	for i := qbits - 1; i >= 0; i-- {
		c.SetBit(quotient, i)
		// A trial square that cannot fit the working precision is
		// necessarily too big.
		if 2*c.CountBits(quotient)-1 > c.prec*UnitSize {
			c.ClrBit(quotient, i)
			continue
		}
		c.Mult(square, quotient, quotient)
		if c.Compare(square, dividend) > 0 {
			c.ClrBit(quotient, i)
		}
	}
	c.Mult(square, quotient, quotient)
	notperfect := c.Compare(square, dividend) != 0
	Burn(square)
	if notperfect {
		return 1
	}
	return 0
}
