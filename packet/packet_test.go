package packet

import (
	"bytes"
	"testing"

	"krypt.co/packetkit/mpint"
)

func TestCTBValues(t *testing.T) {
	cases := []struct {
		ctb  byte
		want byte
	}{
		{CTBPKE, 0x85},
		{CTBSKE, 0x89},
		{CTBMD, 0x8c},
		{CTBConKey, 0x90},
		{CTBCertSecKey, 0x95},
		{CTBCertPubKey, 0x99},
		{CTBCompressed, 0xa3},
		{CTBCKE, 0xa7},
		{CTBLiteral, 0xb3},
	}
	for _, tc := range cases {
		if tc.ctb != tc.want {
			t.Fatalf("ctb %#x, want %#x", tc.ctb, tc.want)
		}
	}
	if !IsType(CTBLiteral, TypeLiteral) || !Indefinite(CTBLiteral) {
		t.Fatal("literal ctb misclassified")
	}
	if Indefinite(CTBPKE) || LLength(CTBPKE) != 2 {
		t.Fatal("pke ctb misclassified")
	}
	if LLength(CTBMD) != 1 {
		t.Fatal("md ctb misclassified")
	}
}

func TestReadWriteLength(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteLength(CTBSKE, 0x1234, &buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{0x34, 0x12}) {
		t.Fatalf("length field %x", buf.Bytes())
	}
	length, indefinite, err := ReadLength(CTBSKE, &buf)
	if err != nil || indefinite || length != 0x1234 {
		t.Fatalf("read length %d indefinite=%v err=%v", length, indefinite, err)
	}

	buf.Reset()
	if err := WriteLength(CTBLiteral, 999, &buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Fatal("indefinite packets carry no length field")
	}
	_, indefinite, err = ReadLength(CTBLiteral, &buf)
	if err != nil || !indefinite {
		t.Fatal("indefinite read failed")
	}
}

func TestMPIEdgeEncodings(t *testing.T) {
	c := mpint.NewCtx()
	one := mpint.NewReg()
	c.Init(one, 1)
	var buf bytes.Buffer
	if err := WriteMPI(c, one, &buf, nil); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{0x01, 0x00, 0x01}) {
		t.Fatalf("mpi(1) = %x", buf.Bytes())
	}

	buf.Reset()
	zero := mpint.NewReg()
	c.Init(zero, 0)
	if err := WriteMPI(c, zero, &buf, nil); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{0x00, 0x00}) {
		t.Fatalf("mpi(0) = %x", buf.Bytes())
	}

	r := mpint.NewReg()
	bits, err := ReadMPI(c, r, bytes.NewReader([]byte{0x00, 0x00}), false, nil)
	if err != nil || bits != 0 || !c.TestEq(r, 0) {
		t.Fatal("mpi(0) round trip failed")
	}
}

func TestMPIRoundTrip(t *testing.T) {
	c := mpint.NewCtx()
	r := mpint.NewReg()
	c.Init(r, 0)
	for i := 0; i < 20; i++ { // a 291-bit pattern
		c.SetBit(r, i*15+i%7)
	}
	var buf bytes.Buffer
	if err := WriteMPI(c, r, &buf, nil); err != nil {
		t.Fatal(err)
	}
	back := mpint.NewReg()
	bits, err := ReadMPI(c, back, &buf, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if bits != c.CountBits(r) {
		t.Fatal("bit count not exact")
	}
	if c.Compare(r, back) != 0 {
		t.Fatal("mpi round trip changed the value")
	}
}

func TestMPIPrecisionOverflow(t *testing.T) {
	c := mpint.NewCtx()
	c.SetPrecision(4) // 64 bits
	r := mpint.NewReg()
	// declares 100 bits
	_, err := ReadMPI(c, r, bytes.NewReader([]byte{100, 0, 1, 2, 3}), false, nil)
	if err != ErrPrecisionOverflow {
		t.Fatalf("got %v, want ErrPrecisionOverflow", err)
	}
	c.SetPrecision(mpint.MaxUnitPrecision)
}

func testModulus(c *mpint.Ctx, bits int) mpint.Reg {
	n := mpint.NewReg()
	c.Init(n, 0)
	c.SetBit(n, bits-1)
	c.SetBit(n, 0) // odd, top bit set
	for i := 3; i < bits-1; i += 17 {
		c.SetBit(n, i)
	}
	return n
}

func TestPreblockRoundTrip(t *testing.T) {
	c := mpint.NewCtx()
	c.SetPrecision(mpint.BitsToUnits(256 + mpint.SlopBits))
	defer c.SetPrecision(mpint.MaxUnitPrecision)
	n := testModulus(c, 256)

	blocksize := Blocksize(c, n, true)
	if blocksize != 32-1-2 {
		t.Fatalf("blocksize %d", blocksize)
	}

	for _, payload := range [][]byte{
		[]byte("hello"),
		[]byte(""),
		bytes.Repeat([]byte{0xaa}, blocksize-1),
	} {
		reg := mpint.NewReg()
		remaining := Preblock(c, reg, payload, n, true, nil)
		if remaining > 0 {
			t.Fatal("payload should have fit")
		}
		data, err := Postunblock(c, reg, n, true, true)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(data, payload) {
			t.Fatalf("round trip: got %q want %q", data, payload)
		}
	}
}

func TestPreblockRandomPad(t *testing.T) {
	c := mpint.NewCtx()
	c.SetPrecision(mpint.BitsToUnits(256 + mpint.SlopBits))
	defer c.SetPrecision(mpint.MaxUnitPrecision)
	n := testModulus(c, 256)

	pad := bytes.Repeat([]byte{0x5a}, 64)
	reg := mpint.NewReg()
	payload := []byte("session key bytes")
	Preblock(c, reg, payload, n, true, pad)
	data, err := Postunblock(c, reg, n, true, true)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatal("random-pad round trip failed")
	}
}

func TestPostunblockChecksumError(t *testing.T) {
	c := mpint.NewCtx()
	c.SetPrecision(mpint.BitsToUnits(256 + mpint.SlopBits))
	defer c.SetPrecision(mpint.MaxUnitPrecision)
	n := testModulus(c, 256)

	reg := mpint.NewReg()
	Preblock(c, reg, []byte("payload"), n, true, nil)
	// flip two plaintext bits
	c.SetBit(reg, 3)
	c.ClrBit(reg, 4)
	if _, err := Postunblock(c, reg, n, true, true); err != ErrChecksum {
		t.Fatalf("got %v, want ErrChecksum", err)
	}
}

func TestLongPadRun(t *testing.T) {
	// a modulus big enough that padding exceeds 255 bytes
	c := mpint.NewCtx()
	c.SetPrecision(mpint.BitsToUnits(2368))
	defer c.SetPrecision(mpint.MaxUnitPrecision)
	n := testModulus(c, 2330)

	blocksize := Blocksize(c, n, true)
	if blocksize <= 258 {
		t.Fatalf("test wants a long pad, blocksize %d", blocksize)
	}
	reg := mpint.NewReg()
	payload := []byte("x")
	Preblock(c, reg, payload, n, true, nil)
	data, err := Postunblock(c, reg, n, true, true)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatal("long pad round trip failed")
	}
}

func TestKeyID(t *testing.T) {
	c := mpint.NewCtx()
	n := mpint.NewReg()
	c.Init(n, 0)
	// n = 0x...0807060504030201
	for i := 0; i < 8; i++ {
		n[i/2] |= uint16(i+1) << uint(8*(i%2))
	}
	c.SetBit(n, 200)
	id := ExtractKeyID(c, n)
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if !bytes.Equal(id[:], want) {
		t.Fatalf("keyID %x", id)
	}
	if !CheckKeyID(c, want, n) {
		t.Fatal("keyID should match")
	}
	if CheckKeyID(c, []byte{9, 9, 9, 9, 9, 9, 9, 9}, n) {
		t.Fatal("keyID should not match")
	}
	if FormatKeyID(id[:]) != "030201" {
		t.Fatalf("display form %s", FormatKeyID(id[:]))
	}
}
