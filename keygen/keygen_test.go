package keygen

import (
	"math/big"
	"testing"

	"krypt.co/packetkit/mpint"
)

// stubSource feeds deterministic bytes and satisfies RandSource.
type stubSource struct {
	state uint32
}

func (s *stubSource) Byte() byte {
	s.state = s.state*1664525 + 1013904223
	return byte(s.state >> 24)
}

func (s *stubSource) Load(bits int) int { return bits }
func (s *stubSource) Flush()            {}

func toBig(c *mpint.Ctx, r mpint.Reg) *big.Int {
	x := new(big.Int)
	for i := c.CountBits(r) - 1; i >= 0; i-- {
		x.Lsh(x, 1)
		if c.TstBit(r, i) {
			x.Or(x, big.NewInt(1))
		}
	}
	return x
}

func TestGCDInv(t *testing.T) {
	c := mpint.NewCtx()
	a := mpint.NewReg()
	n := mpint.NewReg()
	out := mpint.NewReg()
	c.Init(a, 12)
	c.Init(n, 18)
	GCD(c, out, a, n)
	if !c.TestEq(out, 6) {
		t.Fatal("gcd(12,18) != 6")
	}

	c.Init(a, 7)
	c.Init(n, 40)
	Inv(c, out, a, n)
	// 7*23 = 161 = 4*40+1
	if !c.TestEq(out, 23) {
		t.Fatal("inv(7,40) != 23")
	}
}

func TestGenerate(t *testing.T) {
	c := mpint.NewCtx()
	// The sequential search can exhaust its candidate range for an
	// unlucky starting point, so allow a few fresh starts.
	var key *Key
	var err error
	for _, seed := range []uint32{0xdecafbad, 0x5eed1e55, 0x0badcafe} {
		key, err = Generate(c, 512, 5, &stubSource{state: seed})
		if err == nil {
			break
		}
	}
	if err != nil {
		t.Fatal(err)
	}
	defer key.Burn()

	if got := c.CountBits(key.N); got != 512 {
		t.Fatalf("modulus has %d bits, want 512", got)
	}
	if c.Compare(key.P, key.Q) >= 0 {
		t.Fatal("p must be smaller than q")
	}

	p := toBig(c, key.P)
	q := toBig(c, key.Q)
	n := toBig(c, key.N)
	e := toBig(c, key.E)
	d := toBig(c, key.D)
	u := toBig(c, key.U)

	if new(big.Int).Mul(p, q).Cmp(n) != 0 {
		t.Fatal("p*q != n")
	}
	// (e*d) mod lcm(p-1,q-1) = 1
	pm1 := new(big.Int).Sub(p, big.NewInt(1))
	qm1 := new(big.Int).Sub(q, big.NewInt(1))
	g := new(big.Int).GCD(nil, nil, pm1, qm1)
	lcm := new(big.Int).Div(new(big.Int).Mul(pm1, qm1), g)
	ed := new(big.Int).Mul(e, d)
	if new(big.Int).Mod(ed, lcm).Cmp(big.NewInt(1)) != 0 {
		t.Fatal("(e*d) mod lcm(p-1,q-1) != 1")
	}
	// (p*u) mod q = 1
	pu := new(big.Int).Mul(p, u)
	if new(big.Int).Mod(pu, q).Cmp(big.NewInt(1)) != 0 {
		t.Fatal("(p*u) mod q != 1")
	}
	// top two bits of each prime are set
	pb := p.BitLen()
	if p.Bit(pb-1) != 1 || p.Bit(pb-2) != 1 {
		t.Fatal("p missing forced top bits")
	}

	// sign 0x1234 with the secret key, verify with the public key
	sig := mpint.NewReg()
	m := mpint.NewReg()
	c.Init(m, 0x1234)
	if err := c.CRTDecrypt(sig, m, key.D, key.P, key.Q, key.U); err != nil {
		t.Fatal(err)
	}
	if err := c.ModExp(m, sig, key.E, key.N); err != nil {
		t.Fatal(err)
	}
	if !c.TestEq(m, 0x1234) {
		t.Fatal("signature round trip failed")
	}
}
