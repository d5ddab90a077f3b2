package pipeline

import (
	"fmt"
	"io"
	"os"
	"time"

	"krypt.co/packetkit/burn"
	"krypt.co/packetkit/keyring"
	"krypt.co/packetkit/mdigest"
	"krypt.co/packetkit/mpint"
	"krypt.co/packetkit/packet"
)

var (
	ErrSignatureMismatch = fmt.Errorf("signature does not match file contents")
	ErrKeyTooSmall       = fmt.Errorf("RSA key length must be at least 256 bits")
	ErrCompromisedKey    = fmt.Errorf("secret key compromised; this public key cannot be used")
)

// mdPacketLen is the message digest packet body: algorithm byte,
// 16 digest bytes, 4-byte timestamp.
const mdPacketLen = 1 + mdigest.Size + packet.TimestampSize

// makeSignatureCertificate builds an SKE packet: the message digest
// packet is timestamped, preblocked with a checksum and constant
// padding, raised to the secret exponent, and wrapped with the
// signer's key ID.
func makeSignatureCertificate(c *mpint.Ctx, sec *keyring.Certificate, digest [mdigest.Size]byte, now uint32) (cert []byte, err error) {
	oldprec := c.Precision()
	c.SetPrecision(mpint.BitsToUnits(c.CountBits(sec.N) + mpint.SlopBits))
	defer c.SetPrecision(oldprec)

	blocksize := c.CountBytes(sec.N) - 1
	if blocksize < 31 {
		err = ErrKeyTooSmall
		return
	}

	mdpacket := make([]byte, 2+mdPacketLen)
	mdpacket[0] = packet.CTBMD
	mdpacket[1] = mdPacketLen
	mdpacket[2] = mdigest.AlgorithmByte
	copy(mdpacket[3:], digest[:])
	for i := 0; i < packet.TimestampSize; i++ {
		mdpacket[3+mdigest.Size+i] = byte(now >> uint(8*i))
	}
	defer burn.Bytes(mdpacket)

	inreg := mpint.NewReg()
	outreg := mpint.NewReg()
	defer mpint.Burn(inreg)
	defer mpint.Burn(outreg)

	packet.Preblock(c, inreg, mdpacket, sec.N, true, nil)
	if err = c.CRTDecrypt(outreg, inreg, sec.D, sec.P, sec.Q, sec.U); err != nil {
		return
	}

	mpi := make([]byte, mpint.MaxBytePrecision+2)
	defer burn.Bytes(mpi)
	bytecount := packet.RegToMPI(c, mpi, outreg)

	keyID := sec.KeyID(c)
	skeLength := packet.KeyFragSize + bytecount + 2

	cert = make([]byte, 0, 3+skeLength)
	cert = append(cert, packet.CTBSKE, byte(skeLength), byte(skeLength>>8))
	cert = append(cert, keyID[:]...)
	cert = append(cert, mpi[:bytecount+2]...)
	return
}

// Sign writes a signature certificate for infile to outfile and
// appends the plaintext, wrapped as a LITERAL packet unless the input
// already carries nestable packets.  With separate set, only the
// certificate is written.
func Sign(c *mpint.Ctx, sec *keyring.Certificate, infile, outfile string, nested, separate bool) (err error) {
	f, err := os.Open(infile)
	if err != nil {
		return
	}
	defer f.Close()

	digest, err := mdigest.Stream(f)
	if err != nil {
		return
	}
	cert, err := makeSignatureCertificate(c, sec, digest, uint32(time.Now().Unix()))
	if err != nil {
		return
	}

	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return
	}
	g, err := os.OpenFile(outfile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer func() {
		if cerr := g.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(outfile)
		}
	}()

	if _, err = g.Write(cert); err != nil {
		return
	}
	if separate {
		return
	}
	if !nested {
		if _, err = g.Write([]byte{packet.CTBLiteral}); err != nil {
			return
		}
	}
	_, err = io.Copy(g, f)
	return
}

// PublicKeySource resolves a key ID fragment to a public key
// certificate.
type PublicKeySource interface {
	Public(c *mpint.Ctx, keyID []byte) (*keyring.Certificate, error)
}

// VerifyResult reports what signature checking found.  Mismatch does
// not suppress plaintext delivery; the recovered bytes are written
// regardless and the mismatch surfaces as a warning.
type VerifyResult struct {
	Signer    string
	SignedAt  uint32
	Mismatch  bool
	NoKey     bool // signature could not be checked at all
	Nested    bool // output still carries nestable packets
	Separate  bool // certificate without attached text
}

// CheckSignature verifies the SKE packet opening infile.  The signed
// text follows the certificate (optionally behind a LITERAL wrapper,
// which is stripped), or, when the certificate is detached, is read
// from outfile.  The plaintext is copied to outfile unless detached.
func CheckSignature(c *mpint.Ctx, keys PublicKeySource, infile, outfile string) (res VerifyResult, err error) {
	c.SetPrecision(mpint.MaxUnitPrecision)

	f, err := os.Open(infile)
	if err != nil {
		return
	}
	defer f.Close()

	var ctb [1]byte
	if _, err = io.ReadFull(f, ctb[:]); err != nil {
		err = packet.ErrMalformed
		return
	}
	if !packet.IsType(ctb[0], packet.TypeSKE) {
		err = packet.ErrMalformed
		return
	}
	certLength, _, err := packet.ReadLength(ctb[0], f)
	if err != nil {
		return
	}
	if certLength > packet.KeyFragSize+mpint.MaxBytePrecision+2 {
		err = packet.ErrMalformed
		return
	}

	var keyID [packet.KeyFragSize]byte
	if _, err = io.ReadFull(f, keyID[:]); err != nil {
		err = packet.ErrMalformed
		return
	}
	sig := mpint.NewReg()
	defer mpint.Burn(sig)
	if _, err = packet.ReadMPI(c, sig, f, false, nil); err != nil {
		return
	}

	// Where does the signed text start?
	startText, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return
	}
	var peek [1]byte
	if _, perr := io.ReadFull(f, peek[:]); perr != nil {
		res.Separate = true // certificate with no attached text
	} else if packet.IsType(peek[0], packet.TypeLiteral) {
		// skip the LITERAL header; what follows is the raw text
		if _, _, err = packet.ReadLength(peek[0], f); err != nil {
			return
		}
		if startText, err = f.Seek(0, io.SeekCurrent); err != nil {
			return
		}
	} else {
		res.Nested = true // whatever follows may parse further
	}

	textPath := infile
	if res.Separate {
		textPath = outfile // detached signature: the text is the "output" file
	}

	pub, lookupErr := keys.Public(c, keyID[:])
	if lookupErr != nil {
		// can't check integrity, but still deliver the text
		res.NoKey = true
	} else {
		if pub.Compromised(c) {
			err = ErrCompromisedKey
			return
		}
		res.Signer = pub.UserID

		recovered := mpint.NewReg()
		defer mpint.Burn(recovered)
		if err = c.ModExp(recovered, sig, pub.E, pub.N); err != nil {
			return
		}
		var mdpacket []byte
		if mdpacket, err = packet.Postunblock(c, recovered, pub.N, true, true); err != nil {
			return
		}
		defer burn.Bytes(mdpacket)

		if len(mdpacket) < 2+mdPacketLen || !packet.IsType(mdpacket[0], packet.TypeMD) {
			err = packet.ErrMalformed
			return
		}
		if mdpacket[2] != mdigest.AlgorithmByte {
			err = packet.ErrMalformed
			return
		}
		for i := 0; i < packet.TimestampSize; i++ {
			res.SignedAt |= uint32(mdpacket[3+mdigest.Size+i]) << uint(8*i)
		}

		var text *os.File
		if text, err = os.Open(textPath); err != nil {
			return
		}
		if textPath == infile {
			if _, err = text.Seek(startText, io.SeekStart); err != nil {
				text.Close()
				return
			}
		}
		var digest [mdigest.Size]byte
		digest, err = mdigest.Stream(text)
		text.Close()
		if err != nil {
			return
		}
		for i := range digest {
			if digest[i] != mdpacket[3+i] {
				res.Mismatch = true
				break
			}
		}
	}

	if res.Separate {
		return // no output file to produce
	}

	// deliver the text whether or not the signature checked out
	if _, err = f.Seek(startText, io.SeekStart); err != nil {
		return
	}
	g, err := os.OpenFile(outfile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	if _, err = io.Copy(g, f); err != nil {
		g.Close()
		os.Remove(outfile)
		return
	}
	err = g.Close()
	return
}
