package mpint

// CRTDecrypt computes m = cipher^d mod pq without a full-width
// exponentiation, via the Chinese Remainder Theorem: two half-width
// exponentiations mod p and mod q, recombined with u, the
// multiplicative inverse of p mod q (so p is expected to be the
// smaller prime; the arguments are swapped here if not).  All scratch
// is zeroed before return.
func (c *Ctx) CRTDecrypt(m, cipher, d, p, q, u Reg) (err error) {
	c.Init(m, 1) // in case of error

	if c.Compare(p, q) >= 0 {
		p, q = q, p
	}

	p2 := NewReg()
	q2 := NewReg()
	temp1 := NewReg()
	temp2 := NewReg()
	defer func() {
		Burn(p2)
		Burn(q2)
		Burn(temp1)
		Burn(temp2)
	}()

	// p2 = (cipher mod p) ^ (d mod p-1) mod p
	c.Move(temp1, p)
	c.Dec(temp1)
	if err = c.Mod(temp2, d, temp1); err != nil {
		return
	}
	if err = c.Mod(temp1, cipher, p); err != nil {
		return
	}
	if err = c.ModExp(p2, temp1, temp2, p); err != nil {
		return
	}

	// q2 = (cipher mod q) ^ (d mod q-1) mod q
	c.Move(temp1, q)
	c.Dec(temp1)
	if err = c.Mod(temp2, d, temp1); err != nil {
		return
	}
	if err = c.Mod(temp1, cipher, q); err != nil {
		return
	}
	if err = c.ModExp(q2, temp1, temp2, q); err != nil {
		return
	}

	if c.Compare(p2, q2) == 0 {
		// only happens when the result is less than p
		c.Move(m, p2)
		return
	}

	// m = p2 + p * ((q2-p2)*u mod q)
	if c.Sub(q2, p2) {
		c.Add(q2, q)
	}
	if err = c.ModMult(temp2, q2, u, q); err != nil {
		return
	}
	c.Mult(temp1, p, temp2)
	c.Add(temp1, p2)
	c.Move(m, temp1)
	return
}
