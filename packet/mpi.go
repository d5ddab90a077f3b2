package packet

import (
	"fmt"
	"io"

	"krypt.co/packetkit/bass"
	"krypt.co/packetkit/burn"
	"krypt.co/packetkit/mpint"
)

var ErrPrecisionOverflow = fmt.Errorf("integer on the wire exceeds the working precision")

// A multiprecision integer travels as a 16-bit exact bit count,
// little-endian, followed by ceil(bits/8) magnitude bytes, least
// significant first.  Zero encodes as bit count 0 with no magnitude
// bytes.  Secret-key fields are CFB-scrambled, bit count excluded.

func regByte(r mpint.Reg, i int) byte {
	return byte(r[i/2] >> uint(8*(i%2)))
}

func setRegByte(r mpint.Reg, i int, v byte) {
	r[i/2] |= uint16(v) << uint(8*(i%2))
}

// RegToMPI serializes r into buf, returning the number of magnitude
// bytes (the bit count prefix not included).
func RegToMPI(c *mpint.Ctx, buf []byte, r mpint.Reg) int {
	bitcount := c.CountBits(r)
	bytecount := mpint.BitsToBytes(bitcount)
	buf[0] = byte(bitcount)
	buf[1] = byte(bitcount >> 8)
	for i := 0; i < bytecount; i++ {
		buf[2+i] = regByte(r, i)
	}
	return bytecount
}

// MPIToReg deserializes buf into r, returning the number of units
// occupied, or ErrPrecisionOverflow when the declared bit count does
// not fit the working precision.
func MPIToReg(c *mpint.Ctx, r mpint.Reg, buf []byte) (units int, err error) {
	if len(buf) < 2 {
		err = ErrMalformed
		return
	}
	bitcount := int(buf[0]) | int(buf[1])<<8
	bytecount := mpint.BitsToBytes(bitcount)
	units = mpint.BitsToUnits(bitcount)
	if units > c.Precision() {
		err = ErrPrecisionOverflow
		return
	}
	if len(buf) < 2+bytecount {
		err = ErrMalformed
		return
	}
	c.Init(r, 0)
	for i := 0; i < bytecount; i++ {
		setRegByte(r, i, buf[2+i])
	}
	return
}

// WriteMPI emits r to f.  A non-nil cfb scrambles the magnitude
// bytes on the way out, which is how secret key fields are protected.
func WriteMPI(c *mpint.Ctx, r mpint.Reg, f io.Writer, cfb *bass.CFB) (err error) {
	buf := make([]byte, mpint.MaxBytePrecision+2)
	bytecount := RegToMPI(c, buf, r)
	if cfb != nil {
		cfb.Crypt(buf[2 : 2+bytecount])
	}
	_, err = f.Write(buf[:2+bytecount])
	burn.Bytes(buf)
	return
}

// ReadMPI reads an integer from f into r and returns its declared bit
// count.  adjustPrecision resizes the working precision to the number
// read, which is how a certificate's modulus sets the precision for
// the fields that follow it.  A non-nil cfb descrambles secret
// fields.
func ReadMPI(c *mpint.Ctx, r mpint.Reg, f io.Reader, adjustPrecision bool, cfb *bass.CFB) (bits int, err error) {
	c.Init(r, 0)
	var prefix [2]byte
	if _, err = io.ReadFull(f, prefix[:]); err != nil {
		err = ErrMalformed
		return
	}
	bits = int(prefix[0]) | int(prefix[1])<<8
	if mpint.BitsToUnits(bits) > c.Precision() {
		err = ErrPrecisionOverflow
		return
	}
	bytecount := mpint.BitsToBytes(bits)
	buf := make([]byte, bytecount)
	if _, err = io.ReadFull(f, buf); err != nil {
		err = ErrMalformed
		return
	}
	if cfb != nil {
		cfb.Crypt(buf)
	}
	if adjustPrecision && bytecount > 0 {
		c.SetPrecision(mpint.BitsToUnits(bits + mpint.SlopBits))
	}
	for i := 0; i < bytecount; i++ {
		setRegByte(r, i, buf[i])
	}
	burn.Bytes(buf)
	return
}

// ExtractKeyID returns the key's abbreviated fingerprint: the least
// significant KeyFragSize bytes of the modulus.
func ExtractKeyID(c *mpint.Ctx, n mpint.Reg) (keyID [KeyFragSize]byte) {
	for i := 0; i < KeyFragSize; i++ {
		keyID[i] = regByte(n, i)
	}
	return
}

// CheckKeyID compares a wire key ID against the fragment derived from
// modulus n.  A nil keyID matches anything.
func CheckKeyID(c *mpint.Ctx, keyID []byte, n mpint.Reg) bool {
	if keyID == nil {
		return true
	}
	derived := ExtractKeyID(c, n)
	for i := 0; i < KeyFragSize; i++ {
		if keyID[i] != derived[i] {
			return false
		}
	}
	return true
}

// FormatKeyID renders the displayed form of a key ID: the low 3
// bytes, most significant first.
func FormatKeyID(keyID []byte) string {
	return fmt.Sprintf("%02X%02X%02X", keyID[2], keyID[1], keyID[0])
}
