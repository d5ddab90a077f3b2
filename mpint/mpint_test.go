package mpint

import (
	"math/big"
	"math/rand"
	"testing"
)

func fromBig(t *testing.T, x *big.Int) Reg {
	r := NewReg()
	b := x.Bytes() // big-endian
	if len(b) > MaxBytePrecision {
		t.Fatal("value too large for register")
	}
	for i := 0; i < len(b); i++ {
		v := b[len(b)-1-i] // byte i, least significant first
		r[i/2] |= uint16(v) << uint(8*(i%2))
	}
	return r
}

func toBig(c *Ctx, r Reg) *big.Int {
	b := make([]byte, c.Precision()*2)
	for i := 0; i < c.Precision(); i++ {
		b[len(b)-1-2*i] = byte(r[i])
		b[len(b)-2-2*i] = byte(r[i] >> 8)
	}
	return new(big.Int).SetBytes(b)
}

func TestAddSubCompare(t *testing.T) {
	c := NewCtx()
	a := fromBig(t, big.NewInt(0xfffe))
	b := fromBig(t, big.NewInt(3))
	if carry := c.Add(a, b); carry {
		t.Fatal("unexpected carry")
	}
	if got := toBig(c, a).Int64(); got != 0x10001 {
		t.Fatalf("add: got %x", got)
	}
	if c.Compare(a, b) != 1 {
		t.Fatal("compare")
	}
	c.Sub(a, b)
	if got := toBig(c, a).Int64(); got != 0xfffe {
		t.Fatalf("sub: got %x", got)
	}
}

func TestIncDecNeg(t *testing.T) {
	c := NewCtx()
	r := NewReg()
	c.Init(r, 0)
	if !c.Dec(r) {
		t.Fatal("expected borrow decrementing zero")
	}
	if !c.TstMinus(r) {
		t.Fatal("-1 should test negative")
	}
	if !c.Inc(r) {
		t.Fatal("expected carry incrementing -1")
	}
	if !c.TestEq(r, 0) {
		t.Fatal("should be zero again")
	}
	c.Init(r, 42)
	c.Neg(r)
	if !c.TstMinus(r) {
		t.Fatal("negated value should be negative")
	}
	c.Neg(r)
	if !c.TestEq(r, 42) {
		t.Fatal("double negation")
	}
}

func TestCountBits(t *testing.T) {
	c := NewCtx()
	cases := []struct {
		v    int64
		bits int
	}{
		{0, 0}, {1, 1}, {2, 2}, {0x8000, 16}, {0x10000, 17}, {0x1234, 13},
	}
	for _, tc := range cases {
		r := fromBig(t, big.NewInt(tc.v))
		if got := c.CountBits(r); got != tc.bits {
			t.Fatalf("countbits(%#x) = %d, want %d", tc.v, got, tc.bits)
		}
	}
}

func randomBig(rnd *rand.Rand, bits int) *big.Int {
	b := make([]byte, (bits+7)/8)
	rnd.Read(b)
	x := new(big.Int).SetBytes(b)
	return x
}

func TestMultAgainstBig(t *testing.T) {
	c := NewCtx()
	rnd := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		x := randomBig(rnd, 200)
		y := randomBig(rnd, 180)
		a := fromBig(t, x)
		b := fromBig(t, y)
		prod := NewReg()
		c.Mult(prod, a, b)
		want := new(big.Int).Mul(x, y)
		if toBig(c, prod).Cmp(want) != 0 {
			t.Fatalf("mult mismatch at case %d", i)
		}
	}
}

func TestUdivAgainstBig(t *testing.T) {
	c := NewCtx()
	rnd := rand.New(rand.NewSource(8))
	for i := 0; i < 50; i++ {
		x := randomBig(rnd, 220)
		y := randomBig(rnd, 90)
		if y.Sign() == 0 {
			continue
		}
		dividend := fromBig(t, x)
		divisor := fromBig(t, y)
		rem := NewReg()
		quot := NewReg()
		if err := c.Udiv(rem, quot, dividend, divisor); err != nil {
			t.Fatal(err)
		}
		wantQ, wantR := new(big.Int).QuoRem(x, y, new(big.Int))
		if toBig(c, quot).Cmp(wantQ) != 0 || toBig(c, rem).Cmp(wantR) != 0 {
			t.Fatalf("udiv mismatch at case %d", i)
		}
	}
}

func TestShortMod(t *testing.T) {
	c := NewCtx()
	rnd := rand.New(rand.NewSource(9))
	for i := 0; i < 50; i++ {
		x := randomBig(rnd, 150)
		d := uint16(rnd.Intn(0x7fff) + 1)
		r := fromBig(t, x)
		got := c.ShortMod(r, d)
		want := new(big.Int).Mod(x, big.NewInt(int64(d))).Int64()
		if int64(got) != want {
			t.Fatalf("shortmod mismatch: got %d want %d", got, want)
		}
	}
}

func TestModExpAgainstBig(t *testing.T) {
	c := NewCtx()
	rnd := rand.New(rand.NewSource(10))
	for i := 0; i < 10; i++ {
		m := randomBig(rnd, 120)
		m.SetBit(m, 119, 1) // keep the modulus full-size and nonzero
		base := new(big.Int).Mod(randomBig(rnd, 200), m)
		exp := new(big.Int).Mod(randomBig(rnd, 200), m)
		out := NewReg()
		err := c.ModExp(out, fromBig(t, base), fromBig(t, exp), fromBig(t, m))
		if err != nil {
			if base.Sign() == 0 && exp.Sign() == 0 {
				continue
			}
			t.Fatal(err)
		}
		want := new(big.Int).Exp(base, exp, m)
		if toBig(c, out).Cmp(want) != 0 {
			t.Fatalf("modexp mismatch at case %d", i)
		}
	}
}

func TestModExpIdentities(t *testing.T) {
	c := NewCtx()
	m := fromBig(t, big.NewInt(10007))
	a := fromBig(t, big.NewInt(1234))
	out := NewReg()

	if err := c.ModExp(out, a, fromBig(t, big.NewInt(0)), m); err != nil {
		t.Fatal(err)
	}
	if !c.TestEq(out, 1) {
		t.Fatal("a^0 != 1")
	}

	if err := c.ModExp(out, a, fromBig(t, big.NewInt(1)), m); err != nil {
		t.Fatal(err)
	}
	if !c.TestEq(out, 1234) {
		t.Fatal("a^1 != a mod m")
	}
}

func TestModExpErrors(t *testing.T) {
	c := NewCtx()
	out := NewReg()
	zero := NewReg()
	one := fromBig(t, big.NewInt(1))
	m := fromBig(t, big.NewInt(101))

	if err := c.ModExp(out, zero, zero, m); err != ErrZeroToZero {
		t.Fatalf("0^0: got %v", err)
	}
	if err := c.ModExp(out, one, one, zero); err != ErrZeroModulus {
		t.Fatalf("zero modulus: got %v", err)
	}
	neg := NewReg()
	c.Init(neg, 5)
	c.Neg(neg)
	if err := c.ModExp(out, one, one, neg); err != ErrNegativeModulus {
		t.Fatalf("negative modulus: got %v", err)
	}
	big101 := fromBig(t, big.NewInt(102))
	if err := c.ModExp(out, big101, one, m); err != ErrOutOfRange {
		t.Fatalf("base out of range: got %v", err)
	}
	if err := c.ModExp(out, one, big101, m); err != ErrOutOfRange {
		t.Fatalf("exponent out of range: got %v", err)
	}
}

func TestModMultProperty(t *testing.T) {
	c := NewCtx()
	rnd := rand.New(rand.NewSource(11))
	for i := 0; i < 20; i++ {
		m := randomBig(rnd, 100)
		m.SetBit(m, 99, 1)
		a := new(big.Int).Mod(randomBig(rnd, 150), m)
		b := new(big.Int).Mod(randomBig(rnd, 150), m)
		prod := NewReg()
		if err := c.ModMult(prod, fromBig(t, a), fromBig(t, b), fromBig(t, m)); err != nil {
			t.Fatal(err)
		}
		want := new(big.Int).Mod(new(big.Int).Mul(a, b), m)
		if toBig(c, prod).Cmp(want) != 0 {
			t.Fatalf("modmult mismatch at case %d", i)
		}
	}
}

// Two Mersenne primes make a deterministic RSA key for the CRT check.
func testKey(t *testing.T) (p, q, n, e, d, u *big.Int) {
	p = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 89), big.NewInt(1))
	q = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 107), big.NewInt(1))
	n = new(big.Int).Mul(p, q)
	e = big.NewInt(7)
	pm1 := new(big.Int).Sub(p, big.NewInt(1))
	qm1 := new(big.Int).Sub(q, big.NewInt(1))
	phi := new(big.Int).Mul(pm1, qm1)
	d = new(big.Int).ModInverse(e, phi)
	if d == nil {
		t.Fatal("no modular inverse for test exponent")
	}
	u = new(big.Int).ModInverse(p, q)
	return
}

func TestCRTDecryptEquivalence(t *testing.T) {
	c := NewCtx()
	p, q, n, _, d, u := testKey(t)

	rnd := rand.New(rand.NewSource(12))
	for i := 0; i < 5; i++ {
		cipher := new(big.Int).Mod(randomBig(rnd, 250), n)
		m := NewReg()
		err := c.CRTDecrypt(m, fromBig(t, cipher), fromBig(t, d),
			fromBig(t, p), fromBig(t, q), fromBig(t, u))
		if err != nil {
			t.Fatal(err)
		}
		want := new(big.Int).Exp(cipher, d, n)
		if toBig(c, m).Cmp(want) != 0 {
			t.Fatalf("crt mismatch at case %d", i)
		}
	}
}

func TestRSARoundTrip(t *testing.T) {
	c := NewCtx()
	p, q, n, e, d, u := testKey(t)

	msg := big.NewInt(0x1234)
	cipher := NewReg()
	if err := c.ModExp(cipher, fromBig(t, msg), fromBig(t, e), fromBig(t, n)); err != nil {
		t.Fatal(err)
	}
	plain := NewReg()
	err := c.CRTDecrypt(plain, cipher, fromBig(t, d),
		fromBig(t, p), fromBig(t, q), fromBig(t, u))
	if err != nil {
		t.Fatal(err)
	}
	if toBig(c, plain).Cmp(msg) != 0 {
		t.Fatal("rsa round trip failed")
	}
}

func TestSqrt(t *testing.T) {
	c := NewCtx()
	quot := NewReg()

	r := fromBig(t, big.NewInt(144))
	if status := c.Sqrt(quot, r); status != 0 {
		t.Fatalf("sqrt(144) status %d", status)
	}
	if !c.TestEq(quot, 12) {
		t.Fatal("sqrt(144) != 12")
	}

	r = fromBig(t, big.NewInt(145))
	if status := c.Sqrt(quot, r); status != 1 {
		t.Fatal("145 should not be a perfect square")
	}
	if !c.TestEq(quot, 12) {
		t.Fatal("isqrt(145) != 12")
	}

	neg := NewReg()
	c.Init(neg, 9)
	c.Neg(neg)
	if status := c.Sqrt(quot, neg); status != -1 {
		t.Fatal("negative dividend should error")
	}
}
