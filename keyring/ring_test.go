package keyring

import (
	"bytes"
	"io/ioutil"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"krypt.co/packetkit/mpint"
	"krypt.co/packetkit/packet"
)

func fromBig(t *testing.T, x *big.Int) mpint.Reg {
	r := mpint.NewReg()
	b := x.Bytes()
	for i := 0; i < len(b); i++ {
		v := b[len(b)-1-i]
		r[i/2] |= uint16(v) << uint(8*(i%2))
	}
	return r
}

// deterministic RSA material from Mersenne primes
func testCert(t *testing.T, pexp, qexp uint, e int64, userid string) *Certificate {
	p := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), pexp), big.NewInt(1))
	q := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), qexp), big.NewInt(1))
	n := new(big.Int).Mul(p, q)
	phi := new(big.Int).Mul(new(big.Int).Sub(p, big.NewInt(1)), new(big.Int).Sub(q, big.NewInt(1)))
	d := new(big.Int).ModInverse(big.NewInt(e), phi)
	if d == nil {
		t.Fatalf("exponent %d unusable for this prime pair", e)
	}
	u := new(big.Int).ModInverse(p, q)
	return &Certificate{
		CTB:       packet.CTBCertSecKey,
		Timestamp: 0x5cafe000,
		UserID:    userid,
		N:         fromBig(t, n),
		E:         fromBig(t, big.NewInt(e)),
		D:         fromBig(t, d),
		P:         fromBig(t, p),
		Q:         fromBig(t, q),
		U:         fromBig(t, u),
	}
}

func asPublic(cert *Certificate) *Certificate {
	return &Certificate{
		CTB:       packet.CTBCertPubKey,
		Timestamp: cert.Timestamp,
		UserID:    cert.UserID,
		N:         cert.N,
		E:         cert.E,
	}
}

func writeCertFile(t *testing.T, dir, name string, c *mpint.Ctx, cert *Certificate) string {
	c.SetPrecision(mpint.MaxUnitPrecision)
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteCertificate(c, f, cert, nil); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCertificateRoundTrip(t *testing.T) {
	c := mpint.NewCtx()
	cert := testCert(t, 89, 107, 7, "Alice Example <alice@example.com>")

	var buf bytes.Buffer
	if err := WriteCertificate(c, &buf, cert, nil); err != nil {
		t.Fatal(err)
	}
	back, err := ReadCertificate(c, &buf, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if back.UserID != cert.UserID || back.Timestamp != cert.Timestamp {
		t.Fatal("header fields mangled")
	}
	if c.Compare(back.N, cert.N) != 0 || c.Compare(back.D, cert.D) != 0 {
		t.Fatal("key fields mangled")
	}
	c.SetPrecision(mpint.MaxUnitPrecision)
}

func TestLockedSecretKey(t *testing.T) {
	c := mpint.NewCtx()
	cert := testCert(t, 89, 107, 7, "Bob <bob@example.com>")
	passphrase := []byte("abc")

	var buf bytes.Buffer
	cfb, err := passphraseCFB(passphrase, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteCertificate(c, &buf, cert, cfb); err != nil {
		t.Fatal(err)
	}
	locked := buf.Bytes()

	// right passphrase unlocks
	dec, err := passphraseCFB(passphrase, true)
	if err != nil {
		t.Fatal(err)
	}
	back, err := ReadCertificate(c, bytes.NewReader(locked), true, dec)
	if err != nil {
		t.Fatal(err)
	}
	if c.Compare(back.D, cert.D) != 0 {
		t.Fatal("unlock did not recover d")
	}

	// wrong passphrase must fail the p*q = n check
	wrong, err := passphraseCFB([]byte("xyz"), true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ReadCertificate(c, bytes.NewReader(locked), true, wrong); err != ErrBadPassphrase {
		t.Fatalf("got %v, want ErrBadPassphrase", err)
	}

	// reading without the secret fields never needs the passphrase
	if _, err := ReadCertificate(c, bytes.NewReader(locked), false, nil); err != nil {
		t.Fatal(err)
	}
	c.SetPrecision(mpint.MaxUnitPrecision)
}

func TestRingAddFindRemove(t *testing.T) {
	c := mpint.NewCtx()
	dir, err := ioutil.TempDir("", "ring")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	alice := asPublic(testCert(t, 89, 107, 7, "Alice Example"))
	bob := asPublic(testCert(t, 61, 127, 17, "Bob Builder"))

	ring := Open(filepath.Join(dir, "keyring.pub"))
	if err := ring.Add(c, writeCertFile(t, dir, "alice.pub", c, alice)); err != nil {
		t.Fatal(err)
	}
	if err := ring.Add(c, writeCertFile(t, dir, "bob.pub", c, bob)); err != nil {
		t.Fatal(err)
	}

	// the later addition is prepended, so it is found first
	first, _, _, err := ring.FindByUserID(c, "b")
	if err != nil {
		t.Fatal(err)
	}
	if first.UserID != "Bob Builder" {
		t.Fatalf("precedence: found %q", first.UserID)
	}

	// case-insensitive substring match
	found, _, _, err := ring.FindByUserID(c, "alice ex")
	if err != nil {
		t.Fatal(err)
	}
	if found.UserID != "Alice Example" {
		t.Fatal("case-insensitive search failed")
	}

	// lookup by key ID, twice to take the cached path
	bobID := bob.KeyID(c)
	for i := 0; i < 2; i++ {
		got, _, _, err := ring.FindByKeyID(c, bobID[:])
		if err != nil {
			t.Fatal(err)
		}
		if got.UserID != "Bob Builder" {
			t.Fatal("keyID lookup failed")
		}
	}

	// duplicates are rejected
	if err := ring.Add(c, filepath.Join(dir, "alice.pub")); err != ErrDuplicate {
		t.Fatalf("got %v, want ErrDuplicate", err)
	}

	// a compromise certificate for the same key is always accepted
	comp := asPublic(alice)
	comp.E = mpint.NewReg() // e = 0 marks compromise
	if err := ring.Add(c, writeCertFile(t, dir, "alice-comp.pub", c, comp)); err != nil {
		t.Fatal(err)
	}
	got, _, _, err := ring.FindByUserID(c, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Compromised(c) {
		t.Fatal("compromise record should take precedence")
	}

	// remove the compromise record again
	_, off, l, err := ring.FindByUserID(c, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if err := ring.Remove(off, l); err != nil {
		t.Fatal(err)
	}
	got, _, _, err = ring.FindByUserID(c, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.Compromised(c) {
		t.Fatal("original certificate should be back in front")
	}

	// unknown keys report ErrKeyNotFound
	if _, _, _, err := ring.FindByUserID(c, "nobody"); err != ErrKeyNotFound {
		t.Fatalf("got %v, want ErrKeyNotFound", err)
	}
	c.SetPrecision(mpint.MaxUnitPrecision)
}

func TestReadSecretFromRing(t *testing.T) {
	c := mpint.NewCtx()
	dir, err := ioutil.TempDir("", "ring")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	cert := testCert(t, 89, 107, 7, "Carol <carol@example.com>")
	secPath := filepath.Join(dir, "carol.sec")
	pubPath := filepath.Join(dir, "carol.pub")
	if err := WriteKeyFiles(c, secPath, pubPath, cert, []byte("tiger")); err != nil {
		t.Fatal(err)
	}

	ring := Open(filepath.Join(dir, "keyring.sec"))
	if err := ring.Add(c, secPath); err != nil {
		t.Fatal(err)
	}
	_, off, _, err := ring.FindByUserID(c, "carol")
	if err != nil {
		t.Fatal(err)
	}
	sec, err := ring.ReadSecret(c, off, []byte("tiger"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Compare(sec.D, cert.D) != 0 {
		t.Fatal("secret fields not recovered")
	}
	if _, err := ring.ReadSecret(c, off, []byte("wrong")); err != ErrBadPassphrase {
		t.Fatalf("got %v, want ErrBadPassphrase", err)
	}
	c.SetPrecision(mpint.MaxUnitPrecision)
}

func TestView(t *testing.T) {
	c := mpint.NewCtx()
	dir, err := ioutil.TempDir("", "ring")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	ring := Open(filepath.Join(dir, "keyring.pub"))
	alice := asPublic(testCert(t, 89, 107, 7, "Alice Example"))
	if err := ring.Add(c, writeCertFile(t, dir, "alice.pub", c, alice)); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	count, err := ring.View(c, &out, "")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("examined %d keys, want 1", count)
	}
	if !bytes.Contains(out.Bytes(), []byte("Alice Example")) ||
		!bytes.Contains(out.Bytes(), []byte("pub")) {
		t.Fatalf("view output:\n%s", out.String())
	}
	c.SetPrecision(mpint.MaxUnitPrecision)
}
