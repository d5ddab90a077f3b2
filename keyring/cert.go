package keyring

import (
	"fmt"
	"io"
	"io/ioutil"

	"krypt.co/packetkit/bass"
	"krypt.co/packetkit/burn"
	"krypt.co/packetkit/mpint"
	"krypt.co/packetkit/packet"
)

var (
	ErrNotKeyPacket  = fmt.Errorf("not a key certificate packet")
	ErrBadPassphrase = fmt.Errorf("unreadable secret key; possible bad pass phrase")
	ErrCorruptKey    = fmt.Errorf("corrupted key certificate")
)

// maxCertLength bounds a certificate body: timestamp, userid, and six
// integers at full precision.
const maxCertLength = packet.TimestampSize + 256 + 6*(2+mpint.MaxBytePrecision)

// Certificate is one key ring entry.  The secret components are only
// populated when the packet was read as a secret certificate.
type Certificate struct {
	CTB       byte
	Timestamp uint32
	UserID    string
	N, E      mpint.Reg
	D, P, Q, U mpint.Reg
}

// IsSecret reports whether this is a secret key certificate.
func (cert *Certificate) IsSecret() bool {
	return packet.IsType(cert.CTB, packet.TypeCertSecKey)
}

// Compromised reports a "key compromised" certificate, which is a
// public key certificate with e = 0.
func (cert *Certificate) Compromised(c *mpint.Ctx) bool {
	return c.TestEq(cert.E, 0)
}

// KeyID returns the certificate's abbreviated key fingerprint.
func (cert *Certificate) KeyID(c *mpint.Ctx) [packet.KeyFragSize]byte {
	return packet.ExtractKeyID(c, cert.N)
}

// Burn destroys all key material held by the certificate.
func (cert *Certificate) Burn() {
	for _, r := range []mpint.Reg{cert.N, cert.E, cert.D, cert.P, cert.Q, cert.U} {
		if r != nil {
			mpint.Burn(r)
		}
	}
}

// passphraseCFB keys the CFB stream that scrambles secret key fields:
// a fixed control byte ahead of the passphrase, zero IV.
func passphraseCFB(passphrase []byte, decrypt bool) (*bass.CFB, error) {
	key := make([]byte, 0, len(passphrase)+1)
	key = append(key, 0x0f)
	key = append(key, passphrase...)
	defer burn.Bytes(key)
	return bass.NewCFB(key, nil, decrypt)
}

// ReadCertificate reads one key certificate from f.  With wantSecret
// set the secret fields of a secret certificate are read too,
// descrambled through cfb when non-nil; the p*q = n invariant is
// verified before u is read, and a mismatch reports ErrBadPassphrase
// without disclosing which prime is wrong.  The working precision is
// left adjusted to the modulus.
func ReadCertificate(c *mpint.Ctx, f io.Reader, wantSecret bool, cfb *bass.CFB) (cert *Certificate, err error) {
	c.SetPrecision(mpint.MaxUnitPrecision) // safest opening assumption

	var ctb [1]byte
	if _, err = io.ReadFull(f, ctb[:]); err != nil {
		if err != io.EOF {
			err = packet.ErrMalformed
		}
		return
	}
	if ctb[0] != packet.CTBCertPubKey && ctb[0] != packet.CTBCertSecKey {
		err = ErrNotKeyPacket
		return
	}
	cert = &Certificate{CTB: ctb[0]}

	certLength, _, err := packet.ReadLength(ctb[0], f)
	if err != nil {
		return
	}
	if certLength > maxCertLength {
		err = ErrCorruptKey
		return
	}
	remaining := int(certLength)

	var header [5]byte
	if _, err = io.ReadFull(f, header[:]); err != nil {
		err = packet.ErrMalformed
		return
	}
	cert.Timestamp = uint32(header[0]) | uint32(header[1])<<8 |
		uint32(header[2])<<16 | uint32(header[3])<<24
	useridLen := int(header[4])
	userid := make([]byte, useridLen)
	if _, err = io.ReadFull(f, userid); err != nil {
		err = packet.ErrMalformed
		return
	}
	cert.UserID = string(userid)
	remaining -= packet.TimestampSize + 1 + useridLen

	cert.N = mpint.NewReg()
	cert.E = mpint.NewReg()
	if _, err = packet.ReadMPI(c, cert.N, f, true, nil); err != nil {
		return
	}
	if _, err = packet.ReadMPI(c, cert.E, f, false, nil); err != nil {
		return
	}
	remaining -= (c.CountBytes(cert.N) + 2) + (c.CountBytes(cert.E) + 2)

	if cert.IsSecret() && wantSecret {
		cert.D = mpint.NewReg()
		cert.P = mpint.NewReg()
		cert.Q = mpint.NewReg()
		cert.U = mpint.NewReg()
		if _, err = packet.ReadMPI(c, cert.D, f, false, cfb); err != nil {
			return
		}
		if _, err = packet.ReadMPI(c, cert.P, f, false, cfb); err != nil {
			return
		}
		if _, err = packet.ReadMPI(c, cert.Q, f, false, cfb); err != nil {
			return
		}
		// p*q must reproduce n, or the passphrase was wrong
		scratch := mpint.NewReg()
		c.Mult(scratch, cert.P, cert.Q)
		mismatch := c.Compare(cert.N, scratch) != 0
		mpint.Burn(scratch)
		if mismatch {
			err = ErrBadPassphrase
			return
		}
		if _, err = packet.ReadMPI(c, cert.U, f, false, cfb); err != nil {
			return
		}
		remaining -= (c.CountBytes(cert.D) + 2) + (c.CountBytes(cert.P) + 2) +
			(c.CountBytes(cert.Q) + 2) + (c.CountBytes(cert.U) + 2)
	} else if cert.IsSecret() {
		// skip the secret fields
		if _, err = io.CopyN(ioutil.Discard, f, int64(remaining)); err != nil {
			err = packet.ErrMalformed
			return
		}
		remaining = 0
	}

	if remaining != 0 {
		err = ErrCorruptKey
		return
	}
	return
}

// WriteCertificate emits cert to w.  A secret certificate's d, p, q,
// and u fields are scrambled through cfb when non-nil.
func WriteCertificate(c *mpint.Ctx, w io.Writer, cert *Certificate, cfb *bass.CFB) (err error) {
	certLength := packet.TimestampSize + 1 + len(cert.UserID) +
		(c.CountBytes(cert.N) + 2) + (c.CountBytes(cert.E) + 2)
	if cert.IsSecret() {
		certLength += (c.CountBytes(cert.D) + 2) + (c.CountBytes(cert.P) + 2) +
			(c.CountBytes(cert.Q) + 2) + (c.CountBytes(cert.U) + 2)
	}

	header := []byte{
		cert.CTB,
		byte(certLength), byte(certLength >> 8),
		byte(cert.Timestamp), byte(cert.Timestamp >> 8),
		byte(cert.Timestamp >> 16), byte(cert.Timestamp >> 24),
		byte(len(cert.UserID)),
	}
	if _, err = w.Write(header); err != nil {
		return
	}
	if _, err = io.WriteString(w, cert.UserID); err != nil {
		return
	}
	if err = packet.WriteMPI(c, cert.N, w, nil); err != nil {
		return
	}
	if err = packet.WriteMPI(c, cert.E, w, nil); err != nil {
		return
	}
	if cert.IsSecret() {
		for _, r := range []mpint.Reg{cert.D, cert.P, cert.Q, cert.U} {
			if err = packet.WriteMPI(c, r, w, cfb); err != nil {
				return
			}
		}
	}
	return
}
