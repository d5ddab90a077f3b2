// Package pipeline layers the encode and decode operations: literal
// wrapping, signing, compression, conventional and public-key
// encryption on the way out; on the way in, a state machine reads the
// outer cipher type byte of the working file, unwraps one layer into
// a fresh scratch file, and inspects again until a terminal packet is
// reached.  Scratch files holding recovered plaintext are wiped, not
// just removed.
package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/op/go-logging"
	uuid "github.com/satori/go.uuid"

	"krypt.co/packetkit/burn"
	"krypt.co/packetkit/keyring"
	"krypt.co/packetkit/mpint"
	"krypt.co/packetkit/packet"
	"krypt.co/packetkit/rng"
)

var log = logging.MustGetLogger("")

// KeySource supplies the keys and passphrases the decode states need.
type KeySource interface {
	PublicKeySource
	SecretKeySource
	// ConventionalKey returns the passphrase-derived cipher key for
	// a conventionally encrypted packet.
	ConventionalKey() ([]byte, error)
}

// state of the decode machine.
type state int

const (
	stateInspect state = iota
	stateDecryptPKE
	stateVerifySKE
	stateDecryptCKE
	stateDecompress
	stateStripLiteral
	stateShowKey
	stateDone
)

// Result reports what the decode run produced.
type Result struct {
	Verify    VerifyResult // populated when a signature layer was seen
	HadSig    bool
	ShowedKey bool // input was a key ring; keys listed, no output file
	Output    string
}

// scratchPath returns a unique temporary name beside base, so
// concurrent invocations cannot collide on working files.
func scratchPath(base string) string {
	return filepath.Join(filepath.Dir(base), fmt.Sprintf("pk-%s.tmp", uuid.NewV4()))
}

// classify maps an outer CTB to the state that can unwrap it.
func classify(ctb byte) state {
	switch {
	case packet.IsType(ctb, packet.TypePKE):
		return stateDecryptPKE
	case packet.IsType(ctb, packet.TypeSKE):
		return stateVerifySKE
	case packet.IsType(ctb, packet.TypeCKE):
		return stateDecryptCKE
	case packet.IsType(ctb, packet.TypeCompressed):
		return stateDecompress
	case packet.IsType(ctb, packet.TypeLiteral):
		return stateStripLiteral
	case ctb == packet.CTBCertPubKey || ctb == packet.CTBCertSecKey:
		return stateShowKey
	}
	return stateDone
}

func headerByte(path string) (ctb byte, err error) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	var b [1]byte
	if _, err = io.ReadFull(f, b[:]); err != nil {
		err = packet.ErrMalformed
		return
	}
	ctb = b[0]
	return
}

// Decode drives the decode state machine over infile until a terminal
// state, writing the recovered plaintext to outfile.  Each state
// unwraps one layer into a scratch file and re-inspects.  A signature
// mismatch is reported in the result, never by suppressing output; a
// key ring input is listed to w instead of producing output.
func Decode(c *mpint.Ctx, ks KeySource, infile, outfile string, w io.Writer) (res Result, err error) {
	cur := infile
	isScratch := false // whether cur is ours to destroy

	// replace the working file with the freshly produced one
	advance := func(next string) {
		if isScratch {
			burn.File(cur)
		}
		cur = next
		isScratch = true
	}
	defer func() {
		if isScratch {
			burn.File(cur)
		}
		if err != nil {
			os.Remove(outfile)
		}
	}()

	st := stateInspect
	for st != stateDone {
		var ctb byte
		if ctb, err = headerByte(cur); err != nil {
			return
		}
		if !packet.IsCTB(ctb) {
			err = packet.ErrMalformed
			return
		}

		switch st = classify(ctb); st {

		case stateDecryptPKE:
			log.Info("File is encrypted.  Secret key is required to read it.")
			next := scratchPath(outfile)
			if err = DecryptPKE(c, ks, cur, next); err != nil {
				os.Remove(next)
				return
			}
			advance(next)

		case stateVerifySKE:
			log.Info("File has signature.  Public key is required to check signature.")
			next := scratchPath(outfile)
			res.HadSig = true
			if res.Verify, err = CheckSignature(c, ks, cur, next); err != nil {
				os.Remove(next)
				return
			}
			if res.Verify.Separate {
				os.Remove(next)
				st = stateDone
				break
			}
			advance(next)
			if !res.Verify.Nested {
				// the literal wrapper was stripped during the check
				err = finish(cur, outfile)
				st = stateDone
			}

		case stateDecryptCKE:
			log.Info("File is conventionally encrypted.  Pass phrase required to read it.")
			var basskey []byte
			if basskey, err = ks.ConventionalKey(); err != nil {
				return
			}
			next := scratchPath(outfile)
			err = DecryptCKE(basskey, cur, next)
			burn.Bytes(basskey)
			if err != nil {
				os.Remove(next)
				return
			}
			advance(next)

		case stateDecompress:
			next := scratchPath(outfile)
			var g *os.File
			if g, err = os.OpenFile(next, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600); err != nil {
				return
			}
			var f *os.File
			if f, err = os.Open(cur); err != nil {
				g.Close()
				os.Remove(next)
				return
			}
			err = Decompress(f, g)
			f.Close()
			if cerr := g.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(next)
				return
			}
			advance(next)

		case stateStripLiteral:
			var f *os.File
			if f, err = os.Open(cur); err != nil {
				return
			}
			var g *os.File
			if g, err = os.OpenFile(outfile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600); err != nil {
				f.Close()
				return
			}
			err = StripLiteral(f, g)
			f.Close()
			if cerr := g.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return
			}
			st = stateDone

		case stateShowKey:
			fmt.Fprintf(w, "File contains key(s).  Contents follow...\n")
			ring := keyring.Open(cur)
			if _, err = ring.View(c, w, ""); err != nil {
				return
			}
			res.ShowedKey = true
			st = stateDone

		case stateDone:
			err = packet.ErrMalformed
			return
		}
		if err != nil {
			return
		}

		if st != stateDone {
			st = stateInspect
		}
	}

	if !res.ShowedKey {
		res.Output = outfile
	}
	return
}

// finish moves a completed scratch file into place as the final
// plaintext.
func finish(scratch, outfile string) (err error) {
	f, err := os.Open(scratch)
	if err != nil {
		return
	}
	defer f.Close()
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

// EncryptAndSign is the full outbound composition: sign (prepending
// the certificate), compress through the gate, conventionally encrypt
// under a fresh session key, and wrap that key to the recipient.
func EncryptAndSign(c *mpint.Ctx, sec *keyring.Certificate, pub *keyring.Certificate,
	infile, outfile string, strong *rng.Strong, nested bool) (err error) {
	signed := scratchPath(outfile)
	if err = Sign(c, sec, infile, signed, nested, false); err != nil {
		return
	}
	defer burn.File(signed)
	return Encrypt(c, pub, signed, outfile, strong)
}
