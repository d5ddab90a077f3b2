package main

/*
* CLI for the packet cryptosystem: encrypt, sign, conventional
* encryption, key generation and ring management, with decrypt/verify
* as the default action.
 */

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	logging "github.com/op/go-logging"
	"github.com/urfave/cli"
	"golang.org/x/crypto/ssh/terminal"

	pklog "krypt.co/packetkit/common/logging"
	"krypt.co/packetkit/common/persist"

	"krypt.co/packetkit/burn"
	"krypt.co/packetkit/keygen"
	"krypt.co/packetkit/keyring"
	"krypt.co/packetkit/mpint"
	"krypt.co/packetkit/packet"
	"krypt.co/packetkit/pipeline"
	"krypt.co/packetkit/rng"
)

var log *logging.Logger

func PrintFatal(msg string, args ...interface{}) {
	PrintErr(msg, args...)
	os.Exit(1)
}

func PrintErr(msg string, args ...interface{}) {
	os.Stderr.WriteString(fmt.Sprintf(msg, args...) + "\n")
}

func warn(msg string, args ...interface{}) {
	os.Stderr.WriteString(color.RedString(msg, args...) + "\n")
}

func main() {
	app := cli.NewApp()
	app.Name = "pkc"
	app.Usage = "public key packet cryptography for files"
	app.UseShortOptionHandling = true
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "e,encrypt",
			Usage: "Encrypt plaintext file with recipient's public key",
		},
		cli.BoolFlag{
			Name:  "s,sign",
			Usage: "Sign plaintext file with your secret key",
		},
		cli.BoolFlag{
			Name:  "c,conventional",
			Usage: "Encrypt with conventional encryption only",
		},
		cli.BoolFlag{
			Name:  "k,keygen",
			Usage: "Generate your own public/secret key pair",
		},
		cli.BoolFlag{
			Name:  "a,add",
			Usage: "Add a key file's contents to your key ring",
		},
		cli.BoolFlag{
			Name:  "r,remove",
			Usage: "Remove a key from your key ring",
		},
		cli.BoolFlag{
			Name:  "v,view",
			Usage: "View the contents of your key ring",
		},
		cli.BoolFlag{
			Name:  "b,detached",
			Usage: "Produce a separate signature certificate",
		},
		cli.BoolFlag{
			Name:  "n,nested",
			Usage: "Input already carries nestable packets",
		},
		cli.BoolFlag{
			Name:  "w,wipe",
			Usage: "Wipe plaintext after encrypting it",
		},
		cli.BoolFlag{
			Name:  "l,verbose",
			Usage: "Display maximum information",
		},
	}
	app.Action = func(c *cli.Context) error {
		level := logging.NOTICE
		if c.Bool("l") {
			level = logging.DEBUG
		}
		log = pklog.Setup("", level)

		ctx := mpint.NewCtx()
		var err error
		switch {
		case c.Bool("k"):
			err = doKeygen(ctx, c)
		case c.Bool("e"):
			err = doEncrypt(ctx, c)
		case c.Bool("s"):
			err = doSign(ctx, c)
		case c.Bool("c"):
			err = doConventional(ctx, c)
		case c.Bool("a"):
			err = doAdd(ctx, c)
		case c.Bool("r"):
			err = doRemove(ctx, c)
		case c.Bool("v"):
			err = doView(ctx, c)
		default:
			err = doDecode(ctx, c)
		}
		if err != nil {
			PrintFatal("%s", err.Error())
		}
		return nil
	}
	app.Run(os.Args)
}

// readPassphrase reads a passphrase without echo, twice when confirm
// is set.
func readPassphrase(prompt string, confirm bool) (phrase []byte, err error) {
	for {
		fmt.Fprintf(os.Stderr, "%s: ", prompt)
		if terminal.IsTerminal(int(os.Stdin.Fd())) {
			phrase, err = terminal.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
		} else {
			var line string
			line, err = bufio.NewReader(os.Stdin).ReadString('\n')
			phrase = []byte(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			return
		}
		if !confirm {
			return
		}
		fmt.Fprintf(os.Stderr, "Enter same pass phrase again: ")
		var again []byte
		if terminal.IsTerminal(int(os.Stdin.Fd())) {
			again, err = terminal.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
		} else {
			var line string
			line, err = bufio.NewReader(os.Stdin).ReadString('\n')
			again = []byte(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			return
		}
		if string(phrase) == string(again) {
			burn.Bytes(again)
			return
		}
		warn("Error: Pass phrases were different.  Try again.")
	}
}

func readLine(prompt string) (s string, err error) {
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	s, err = bufio.NewReader(os.Stdin).ReadString('\n')
	s = strings.TrimRight(s, "\r\n")
	return
}

func openStrong() (*rng.Strong, error) {
	seed, err := persist.RandSeedPath()
	if err != nil {
		return nil, err
	}
	return &rng.Strong{
		Path:   seed,
		Pool:   &rng.Pool{},
		Keys:   os.Stdin,
		Prompt: os.Stderr,
	}, nil
}

// ringKeys resolves keys out of the default rings, prompting for
// passphrases as needed.
type ringKeys struct {
	pub *keyring.Ring
	sec *keyring.Ring
}

func openRings(c *cli.Context) (rk *ringKeys, err error) {
	pubPath, err := persist.PublicRingPath()
	if err != nil {
		return
	}
	secPath, err := persist.SecretRingPath()
	if err != nil {
		return
	}
	rk = &ringKeys{pub: keyring.Open(pubPath), sec: keyring.Open(secPath)}
	return
}

func (rk *ringKeys) Public(c *mpint.Ctx, keyID []byte) (*keyring.Certificate, error) {
	cert, _, _, err := rk.pub.FindByKeyID(c, keyID)
	return cert, err
}

// unlockSecret reads the secret certificate at offset, trying the
// null passphrase first and then prompting up to three times.
func (rk *ringKeys) unlockSecret(c *mpint.Ctx, offset int64) (cert *keyring.Certificate, err error) {
	cert, err = rk.sec.ReadSecret(c, offset, nil)
	if err != keyring.ErrBadPassphrase {
		if err == nil {
			warn("Advisory warning: this secret key is not protected by a pass phrase.")
		}
		return
	}
	for guesses := 3; guesses > 0; guesses-- {
		var phrase []byte
		fmt.Fprintln(os.Stderr, "You need a pass phrase to unlock your secret key.")
		if phrase, err = readPassphrase("Enter pass phrase", false); err != nil {
			return
		}
		cert, err = rk.sec.ReadSecret(c, offset, phrase)
		burn.Bytes(phrase)
		if err != keyring.ErrBadPassphrase {
			return
		}
		warn("Unreadable secret key.  Possible bad pass phrase.")
	}
	err = keyring.ErrBadPassphrase
	return
}

func (rk *ringKeys) Secret(c *mpint.Ctx, keyID []byte) (*keyring.Certificate, error) {
	_, offset, _, err := rk.sec.FindByKeyID(c, keyID)
	if err != nil {
		return nil, err
	}
	return rk.unlockSecret(c, offset)
}

func (rk *ringKeys) secretByUserID(c *mpint.Ctx, userid string) (*keyring.Certificate, error) {
	_, offset, _, err := rk.sec.FindByUserID(c, userid)
	if err != nil {
		return nil, err
	}
	return rk.unlockSecret(c, offset)
}

func (rk *ringKeys) ConventionalKey() (key []byte, err error) {
	phrase, err := readPassphrase("Enter pass phrase", false)
	if err != nil {
		return
	}
	key = append([]byte{0x1f}, phrase...)
	burn.Bytes(phrase)
	return
}

// defaultOutName swaps the input's extension for the ciphertext one.
func defaultOutName(in, ext string) string {
	base := strings.TrimSuffix(in, filepath.Ext(in))
	return base + ext
}

func doKeygen(ctx *mpint.Ctx, c *cli.Context) (err error) {
	args := c.Args()
	if len(args) < 1 {
		return fmt.Errorf("usage: pkc -k keyfile [bits]")
	}
	keyfile := args.Get(0)

	keybits := 510
	if len(args) >= 2 {
		var n int
		if n, err = strconv.Atoi(args.Get(1)); err != nil {
			return fmt.Errorf("bad key size '%s'", args.Get(1))
		}
		switch n { // standard grades
		case 1:
			keybits = 286
		case 2:
			keybits = 510
		case 3:
			keybits = 990
		default:
			keybits = n
		}
	}
	if keybits < 286 { // minimum for the session key bootstrap
		keybits = 286
	}

	userid, err := readLine("Enter a user ID for your public key (your name)")
	if err != nil {
		return
	}
	if len(userid) > 255 {
		userid = userid[:255]
	}
	fmt.Fprintln(os.Stderr, "You need a pass phrase to protect your secret key.")
	passphrase, err := readPassphrase("Enter pass phrase", true)
	if err != nil {
		return
	}
	defer burn.Bytes(passphrase)

	pool := &rng.Pool{}
	if err = pool.Accumulate(os.Stdin, os.Stderr, keybits+2*mpint.UnitSize); err != nil {
		return
	}

	fmt.Fprintln(os.Stderr, "Note that key generation is a lengthy process.")
	key, err := keygen.Generate(ctx, keybits, 5, pool)
	if err != nil {
		return
	}
	defer key.Burn()

	cert := &keyring.Certificate{
		CTB:       packet.CTBCertSecKey,
		Timestamp: uint32(time.Now().Unix()),
		UserID:    userid,
		N:         key.N, E: key.E, D: key.D,
		P: key.P, Q: key.Q, U: key.U,
	}
	secPath := keyfile + ".sec"
	pubPath := keyfile + ".pub"
	if err = keyring.WriteKeyFiles(ctx, secPath, pubPath, cert, passphrase); err != nil {
		return
	}
	keyID := cert.KeyID(ctx)
	fmt.Fprintf(os.Stderr, "%d-bit key, Key ID %s, written to '%s' and '%s'.\n",
		ctx.CountBits(cert.N), packet.FormatKeyID(keyID[:]), secPath, pubPath)

	rk, err := openRings(c)
	if err != nil {
		return
	}
	if err = rk.pub.Add(ctx, pubPath); err != nil && err != keyring.ErrDuplicate {
		return
	}
	if err = rk.sec.Add(ctx, secPath); err != nil && err != keyring.ErrDuplicate {
		return
	}
	err = nil

	// prime the strong generator's seed file for later session keys
	strong, serr := openStrong()
	if serr == nil {
		strong.Pool = pool
		var throwaway [1]byte
		strong.Read(throwaway[:])
	}
	return
}

func doEncrypt(ctx *mpint.Ctx, c *cli.Context) (err error) {
	args := c.Args()
	if len(args) < 2 {
		return fmt.Errorf("usage: pkc -e[s] plainfile her_userid [your_userid] [outfile]")
	}
	plainfile := args.Get(0)
	recipient := args.Get(1)

	rk, err := openRings(c)
	if err != nil {
		return
	}
	pub, _, _, err := rk.pub.FindByUserID(ctx, recipient)
	if err != nil {
		return
	}

	outfile := defaultOutName(plainfile, ".ctx")
	strong, err := openStrong()
	if err != nil {
		return
	}

	if c.Bool("s") { // sign and encrypt
		signerID := ""
		if len(args) >= 3 {
			signerID = args.Get(2)
		}
		if len(args) >= 4 {
			outfile = args.Get(3)
		}
		var sec *keyring.Certificate
		if sec, err = rk.secretByUserID(ctx, signerID); err != nil {
			return
		}
		defer sec.Burn()
		err = pipeline.EncryptAndSign(ctx, sec, pub, plainfile, outfile, strong, c.Bool("n"))
	} else {
		if len(args) >= 3 {
			outfile = args.Get(2)
		}
		// wrap the plaintext as a literal packet before encrypting,
		// unless it already carries nestable packets
		work := plainfile
		if !c.Bool("n") {
			scratch := outfile + ".lit"
			if err = literalWrap(plainfile, scratch); err != nil {
				return
			}
			defer burn.File(scratch)
			work = scratch
		}
		err = pipeline.Encrypt(ctx, pub, work, outfile, strong)
	}
	if err != nil {
		return
	}

	if c.Bool("w") {
		if err = burn.File(plainfile); err != nil {
			return
		}
		fmt.Fprintf(os.Stderr, "File %s wiped and deleted.\n", plainfile)
	}
	fmt.Fprintf(os.Stderr, "Ciphertext file: %s\n", outfile)
	return
}

func literalWrap(in, out string) (err error) {
	f, err := os.Open(in)
	if err != nil {
		return
	}
	defer f.Close()
	g, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	if err = pipeline.MakeLiteral(f, g); err != nil {
		g.Close()
		os.Remove(out)
		return
	}
	return g.Close()
}

func doSign(ctx *mpint.Ctx, c *cli.Context) (err error) {
	args := c.Args()
	if len(args) < 1 {
		return fmt.Errorf("usage: pkc -s plainfile [your_userid] [outfile]")
	}
	plainfile := args.Get(0)
	signerID := ""
	if len(args) >= 2 {
		signerID = args.Get(1)
	}
	outfile := defaultOutName(plainfile, ".ctx")
	if len(args) >= 3 {
		outfile = args.Get(2)
	}

	rk, err := openRings(c)
	if err != nil {
		return
	}
	sec, err := rk.secretByUserID(ctx, signerID)
	if err != nil {
		return
	}
	defer sec.Burn()

	if err = pipeline.Sign(ctx, sec, plainfile, outfile, c.Bool("n"), c.Bool("b")); err != nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Signature file: %s\n", outfile)
	return
}

func doConventional(ctx *mpint.Ctx, c *cli.Context) (err error) {
	args := c.Args()
	if len(args) < 1 {
		return fmt.Errorf("usage: pkc -c plainfile [outfile]")
	}
	plainfile := args.Get(0)
	outfile := defaultOutName(plainfile, ".ctx")
	if len(args) >= 2 {
		outfile = args.Get(1)
	}

	phrase, err := readPassphrase("Enter pass phrase", true)
	if err != nil {
		return
	}
	basskey := append([]byte{0x1f}, phrase...)
	burn.Bytes(phrase)
	defer burn.Bytes(basskey)

	strong, err := openStrong()
	if err != nil {
		return
	}

	scratch := outfile + ".lit"
	if err = literalWrap(plainfile, scratch); err != nil {
		return
	}
	defer burn.File(scratch)

	if err = pipeline.SymEncrypt(basskey, scratch, outfile, strong); err != nil {
		return
	}
	if c.Bool("w") {
		if err = burn.File(plainfile); err != nil {
			return
		}
	}
	fmt.Fprintf(os.Stderr, "Ciphertext file: %s\n", outfile)
	return
}

func doAdd(ctx *mpint.Ctx, c *cli.Context) (err error) {
	args := c.Args()
	if len(args) < 1 {
		return fmt.Errorf("usage: pkc -a keyfile [keyring]")
	}
	keyfile := args.Get(0)
	var ringPath string
	if len(args) >= 2 {
		ringPath = args.Get(1)
	} else if ringPath, err = persist.PublicRingPath(); err != nil {
		return
	}
	ring := keyring.Open(ringPath)
	if err = ring.Add(ctx, keyfile); err != nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Key added to key ring '%s'.\n", ringPath)
	return
}

func doRemove(ctx *mpint.Ctx, c *cli.Context) (err error) {
	args := c.Args()
	if len(args) < 1 {
		return fmt.Errorf("usage: pkc -r userid [keyring]")
	}
	userid := args.Get(0)
	var ringPath string
	if len(args) >= 2 {
		ringPath = args.Get(1)
	} else if ringPath, err = persist.PublicRingPath(); err != nil {
		return
	}
	ring := keyring.Open(ringPath)
	cert, offset, length, err := ring.FindByUserID(ctx, userid)
	if err != nil {
		return
	}
	if cert.Compromised(ctx) {
		warn("WARNING: this is a \"key compromised\" certificate.")
		warn("It should not be removed from the key ring!")
	}
	answer, err := readLine(fmt.Sprintf("Remove key for \"%s\" (y/N)", cert.UserID))
	if err != nil || len(answer) == 0 || (answer[0] != 'y' && answer[0] != 'Y') {
		return fmt.Errorf("aborting")
	}
	if err = ring.Remove(offset, length); err != nil {
		return
	}
	fmt.Fprintln(os.Stderr, "Key removed from key ring.")
	return
}

func doView(ctx *mpint.Ctx, c *cli.Context) (err error) {
	args := c.Args()
	userid := ""
	var ringPath string
	if len(args) >= 1 {
		userid = args.Get(0)
	}
	if len(args) >= 2 {
		ringPath = args.Get(1)
	} else if ringPath, err = persist.PublicRingPath(); err != nil {
		return
	}
	ring := keyring.Open(ringPath)
	count, err := ring.View(ctx, os.Stderr, userid)
	if err != nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%d key(s) examined.\n", count)
	return
}

func doDecode(ctx *mpint.Ctx, c *cli.Context) (err error) {
	args := c.Args()
	if len(args) < 1 {
		cli.ShowAppHelp(c)
		os.Exit(1)
	}
	cipherfile := args.Get(0)
	outfile := strings.TrimSuffix(cipherfile, filepath.Ext(cipherfile))
	if len(args) >= 2 {
		outfile = args.Get(1)
	}
	if outfile == cipherfile {
		return fmt.Errorf("file '%s' cannot be both input and output", cipherfile)
	}

	rk, err := openRings(c)
	if err != nil {
		return
	}
	res, err := pipeline.Decode(ctx, rk, cipherfile, outfile, os.Stderr)
	if err != nil {
		return
	}
	if res.HadSig {
		v := res.Verify
		switch {
		case v.NoKey:
			warn("WARNING: can't find the right public key -- can't check signature integrity.")
		case v.Mismatch:
			warn("WARNING: Bad signature from user \"%s\", doesn't match file contents!", v.Signer)
		default:
			fmt.Fprintf(os.Stderr, "Good signature from user \"%s\".\n", v.Signer)
			fmt.Fprintf(os.Stderr, "Signature made %s\n",
				time.Unix(int64(v.SignedAt), 0).UTC().Format(time.RFC1123))
		}
	}
	if res.ShowedKey {
		return
	}
	fmt.Fprintf(os.Stderr, "Plaintext filename: %s\n", res.Output)
	return
}
