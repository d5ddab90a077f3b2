// Package packet implements the tagged-packet wire format: cipher
// type bytes, variable-width length fields, multiprecision integers
// with an exact leading bit count, and the padding wrappers that turn
// short plaintexts into full RSA blocks.  Every multi-byte scalar on
// the wire is little-endian.
package packet

import (
	"fmt"
	"io"
)

var ErrMalformed = fmt.Errorf("malformed packet")

const (
	// KeyFragSize is the size of a key ID modulus fragment.
	KeyFragSize = 8
	// TimestampSize is the size of a wire timestamp.
	TimestampSize = 4
)

// Cipher Type Byte layout: the high bit marks a CTB, bits 2-6 carry
// the packet type, and bits 0-1 select a length field of 2^n bytes,
// where n=3 (nominally eight bytes) is the sentinel for "no length
// field, read to end of stream".
const (
	ctbDesignator = 0x80
	ctbTypeMask   = 0x7c
	ctbLLenMask   = 0x03
)

// Packet types.
const (
	TypePKE        = 1  // session key encrypted with a public key
	TypeSKE        = 2  // digest signed with a secret key
	TypeMD         = 3  // message digest
	TypeConKey     = 4  // conventional session key
	TypeCertSecKey = 5  // secret key certificate
	TypeCertPubKey = 6  // public key certificate
	TypeCompressed = 8  // compressed data
	TypeCKE        = 9  // conventionally encrypted data
	TypeLiteral    = 12 // raw data
)

// MakeCTB assembles a CTB from a type and length-of-length selector.
func MakeCTB(typ, llen int) byte {
	return byte(ctbDesignator + 4*typ + llen)
}

// The concrete CTBs this system emits.
var (
	CTBPKE        = MakeCTB(TypePKE, 1)        // len16 keyID mpi
	CTBSKE        = MakeCTB(TypeSKE, 1)        // len16 keyID mpi
	CTBMD         = MakeCTB(TypeMD, 0)         // len8 alg digest timestamp
	CTBConKey     = MakeCTB(TypeConKey, 0)     // len8 alg key
	CTBCertSecKey = MakeCTB(TypeCertSecKey, 1) // len16 cert body
	CTBCertPubKey = MakeCTB(TypeCertPubKey, 1) // len16 cert body
	CTBCompressed = MakeCTB(TypeCompressed, 3) // alg stream, to EOF
	CTBCKE        = MakeCTB(TypeCKE, 3)        // ciphertext, to EOF
	CTBLiteral    = MakeCTB(TypeLiteral, 3)    // raw data, to EOF
)

// IsCTB reports whether b carries the CTB designator bit.
func IsCTB(b byte) bool { return b&ctbDesignator != 0 }

// CTBType extracts the packet type.
func CTBType(b byte) int { return int(b&ctbTypeMask) >> 2 }

// IsType reports whether b is a CTB of the given type.
func IsType(b byte, typ int) bool {
	return IsCTB(b) && CTBType(b) == typ
}

// LLength returns the length field width for a CTB: 1, 2, or 4
// bytes, or 8 as the indefinite-length sentinel.
func LLength(b byte) int { return 1 << (b & ctbLLenMask) }

// Indefinite reports whether the CTB declares no length field at
// all, extending the packet to the end of the stream.
func Indefinite(b byte) bool { return LLength(b) == 8 }

// ReadLength reads the length field that follows ctb.  For an
// indefinite packet it reads nothing and reports indefinite=true.
func ReadLength(ctb byte, r io.Reader) (length uint32, indefinite bool, err error) {
	llen := LLength(ctb)
	if llen == 8 {
		indefinite = true
		return
	}
	var buf [4]byte
	if _, err = io.ReadFull(r, buf[:llen]); err != nil {
		err = ErrMalformed
		return
	}
	for i := llen - 1; i >= 0; i-- {
		length = length<<8 | uint32(buf[i])
	}
	return
}

// WriteLength emits a length field sized per the CTB's selector.
// Indefinite CTBs carry no length field.
func WriteLength(ctb byte, length uint32, w io.Writer) (err error) {
	llen := LLength(ctb)
	if llen == 8 {
		return
	}
	var buf [4]byte
	for i := 0; i < llen; i++ {
		buf[i] = byte(length >> uint(8*i))
	}
	_, err = w.Write(buf[:llen])
	return
}
