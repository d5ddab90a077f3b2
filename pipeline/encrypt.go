package pipeline

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"krypt.co/packetkit/bass"
	"krypt.co/packetkit/burn"
	"krypt.co/packetkit/keyring"
	"krypt.co/packetkit/mpint"
	"krypt.co/packetkit/packet"
	"krypt.co/packetkit/rng"
)

// BassAlgorithmByte identifies the conventional cipher in session key
// packets.
const BassAlgorithmByte = 2

// cfbEncryptFile runs the CFB cipher over f into g, preceded by the
// encrypted key check bytes.
func cfbEncryptFile(basskey []byte, f io.Reader, g io.Writer, strong *rng.Strong) (err error) {
	cf, err := bass.NewCFB(basskey, nil, false)
	if err != nil {
		return
	}
	defer cf.Close()
	var check [2]byte
	if err = strong.Read(check[:]); err != nil {
		// no seed file: fall back to the raw pool
		check[0] = strong.Pool.Byte()
		check[1] = strong.Pool.Byte()
		err = nil
	}
	if err = cf.WriteKeyCheck(g, check[0], check[1]); err != nil {
		return
	}
	return cf.Stream(f, g)
}

// cfbDecryptFile reverses cfbEncryptFile, verifying the key check
// bytes first.
func cfbDecryptFile(basskey []byte, f io.Reader, g io.Writer) (err error) {
	cf, err := bass.NewCFB(basskey, nil, true)
	if err != nil {
		return
	}
	defer cf.Close()
	if err = cf.ReadKeyCheck(f); err != nil {
		return
	}
	return cf.Stream(f, g)
}

// squishAndEncrypt compresses f through the gate and streams it into
// a CKE packet on g under basskey.
func squishAndEncrypt(basskey []byte, f *os.File, g *os.File, strong *rng.Strong) (err error) {
	scratch := scratchPath(g.Name())
	t, compressed, err := compressGate(f, scratch)
	if err != nil {
		return
	}
	if compressed {
		defer func() {
			t.Close()
			burn.File(scratch)
		}()
	}

	if _, err = g.Write([]byte{packet.CTBCKE}); err != nil {
		return
	}
	err = cfbEncryptFile(basskey, t, g, strong)
	return
}

// sessionKeyLength grades the conventional key size to the RSA block
// size available to carry it.
func sessionKeyLength(blocksize int) int {
	keylen := 32
	if blocksize < 64 {
		keylen = 24
	}
	if blocksize < 36 {
		keylen = 16
	}
	return keylen
}

// Encrypt wraps infile for a recipient: the plaintext is compressed
// (when worthwhile) and CFB-encrypted under a fresh session key
// inside a CKE packet, and the session key packet is RSA-encrypted to
// the recipient's public key inside a leading PKE packet.
func Encrypt(c *mpint.Ctx, pub *keyring.Certificate, infile, outfile string, strong *rng.Strong) (err error) {
	if pub.Compromised(c) {
		return ErrCompromisedKey
	}

	oldprec := c.Precision()
	c.SetPrecision(mpint.BitsToUnits(c.CountBits(pub.N) + mpint.SlopBits))
	defer c.SetPrecision(oldprec)

	blocksize := c.CountBytes(pub.N) - 1
	if blocksize < 31 {
		return ErrKeyTooSmall
	}

	basskey, err := strong.SessionKey(sessionKeyLength(blocksize))
	if err != nil {
		return errors.Wrap(err, "generating session key")
	}
	defer burn.Bytes(basskey)

	// session key packet, nested inside the RSA block
	ckpLength := len(basskey) + 1 // algorithm byte included
	conkey := make([]byte, 0, ckpLength+2)
	conkey = append(conkey, packet.CTBConKey, byte(ckpLength), BassAlgorithmByte)
	conkey = append(conkey, basskey...)
	defer burn.Bytes(conkey)

	// messages encrypted to a public key pad with random bytes
	randompad := make([]byte, blocksize)
	if err = strong.Read(randompad); err != nil {
		for i := range randompad {
			randompad[i] = strong.Pool.Byte()
		}
		err = nil
	}
	defer burn.Bytes(randompad)

	inreg := mpint.NewReg()
	outreg := mpint.NewReg()
	defer mpint.Burn(inreg)
	defer mpint.Burn(outreg)
	packet.Preblock(c, inreg, conkey, pub.N, true, randompad)
	if err = c.ModExp(outreg, inreg, pub.E, pub.N); err != nil {
		return
	}

	f, err := os.Open(infile)
	if err != nil {
		return
	}
	defer f.Close()
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

	keyID := pub.KeyID(c)
	pkeLength := packet.KeyFragSize + c.CountBytes(outreg) + 2
	if _, err = g.Write([]byte{packet.CTBPKE}); err != nil {
		return
	}
	if err = packet.WriteLength(packet.CTBPKE, uint32(pkeLength), g); err != nil {
		return
	}
	if _, err = g.Write(keyID[:]); err != nil {
		return
	}
	if err = packet.WriteMPI(c, outreg, g, nil); err != nil {
		return
	}

	return squishAndEncrypt(basskey, f, g, strong)
}

// SymEncrypt compresses and encrypts infile under a passphrase-
// derived key, with no RSA layer.
func SymEncrypt(basskey []byte, infile, outfile string, strong *rng.Strong) (err error) {
	f, err := os.Open(infile)
	if err != nil {
		return
	}
	defer f.Close()
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
	return squishAndEncrypt(basskey, f, g, strong)
}

// SecretKeySource resolves a key ID to an unlocked secret key
// certificate, prompting for and retrying the passphrase as needed.
type SecretKeySource interface {
	Secret(c *mpint.Ctx, keyID []byte) (*keyring.Certificate, error)
}

// DecryptPKE opens a PKE-led message: recovers the session key packet
// with the recipient's secret key, then CFB-decrypts the CKE packet
// that follows.  The output always deserves another look for nested
// packets.
func DecryptPKE(c *mpint.Ctx, keys SecretKeySource, infile, outfile string) (err error) {
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
	if !packet.IsType(ctb[0], packet.TypePKE) {
		err = packet.ErrMalformed
		return
	}
	if _, _, err = packet.ReadLength(ctb[0], f); err != nil {
		return
	}
	var keyID [packet.KeyFragSize]byte
	if _, err = io.ReadFull(f, keyID[:]); err != nil {
		err = packet.ErrMalformed
		return
	}

	sec, err := keys.Secret(c, keyID[:])
	if err != nil {
		return
	}
	defer sec.Burn()

	inreg := mpint.NewReg()
	outreg := mpint.NewReg()
	defer mpint.Burn(inreg)
	defer mpint.Burn(outreg)
	if _, err = packet.ReadMPI(c, inreg, f, false, nil); err != nil {
		return
	}
	if err = c.CRTDecrypt(outreg, inreg, sec.D, sec.P, sec.Q, sec.U); err != nil {
		return
	}
	conkey, err := packet.Postunblock(c, outreg, sec.N, true, true)
	if err != nil {
		return
	}
	defer burn.Bytes(conkey)

	if len(conkey) < 4 || !packet.IsType(conkey[0], packet.TypeConKey) {
		err = packet.ErrMalformed
		return
	}
	if conkey[2] != BassAlgorithmByte {
		err = packet.ErrMalformed
		return
	}
	if 2+int(conkey[1]) > len(conkey) {
		err = packet.ErrMalformed
		return
	}
	basskey := conkey[3 : 2+int(conkey[1])]

	if _, err = io.ReadFull(f, ctb[:]); err != nil || ctb[0] != packet.CTBCKE {
		err = packet.ErrMalformed
		return
	}
	if _, _, err = packet.ReadLength(ctb[0], f); err != nil {
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
	return cfbDecryptFile(basskey, f, g)
}

// DecryptCKE opens a bare conventionally encrypted file under a
// passphrase-derived key.
func DecryptCKE(basskey []byte, infile, outfile string) (err error) {
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
	if !packet.IsType(ctb[0], packet.TypeCKE) {
		err = packet.ErrMalformed
		return
	}
	if _, _, err = packet.ReadLength(ctb[0], f); err != nil {
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
	return cfbDecryptFile(basskey, f, g)
}
