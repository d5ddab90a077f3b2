package bass

import (
	"fmt"
	"io"
)

var ErrBadKey = fmt.Errorf("key check bytes do not match; wrong key")

// KeyCheckLength is the number of CFB-encrypted key check bytes
// written ahead of a ciphertext stream: two random bytes and their
// duplicate.
const KeyCheckLength = 4

// CFB runs the block cipher in cipher feedback mode.  The underlying
// block cipher always runs in the forward direction; the direction
// flag only controls which side of the xor feeds the IV.
type CFB struct {
	c       *Cipher
	iv      [256]byte
	decrypt bool
}

// NewCFB keys a CFB stream.  iv0 may be nil for an all-zero IV.
func NewCFB(key, iv0 []byte, decrypt bool) (cf *CFB, err error) {
	c, err := New(key, false)
	if err != nil {
		return
	}
	cf = &CFB{c: c, decrypt: decrypt}
	copy(cf.iv[:], iv0)
	return
}

// Close destroys the IV and key schedule.
func (cf *CFB) Close() {
	wipe(&cf.iv)
	cf.c.Close()
}

// cfbshift shifts count bytes of ciphertext into the IV's tail.
func (cf *CFB) cfbshift(buf []byte) {
	count := len(buf)
	retained := BlockSize - count
	copy(cf.iv[:retained], cf.iv[count:])
	copy(cf.iv[retained:], buf)
}

// Crypt transforms buf in place, any length.
func (cf *CFB) Crypt(buf []byte) {
	var temp [256]byte
	for len(buf) > 0 {
		chunk := len(buf)
		if chunk > BlockSize {
			chunk = BlockSize
		}
		cf.c.Block(&cf.iv, &temp) // encrypt the IV

		if cf.decrypt { // buf holds ciphertext; shift in before xor
			cf.cfbshift(buf[:chunk])
		}
		for i := 0; i < chunk; i++ {
			buf[i] ^= temp[i]
		}
		if !cf.decrypt { // buf now holds ciphertext
			cf.cfbshift(buf[:chunk])
		}
		buf = buf[chunk:]
	}
	wipe(&temp)
}

// WriteKeyCheck emits the encrypted key check prefix: the two random
// bytes r1 r2 followed by their duplicate.
func (cf *CFB) WriteKeyCheck(w io.Writer, r1, r2 byte) (err error) {
	check := []byte{r1, r2, r1, r2}
	cf.Crypt(check)
	_, err = w.Write(check)
	for i := range check {
		check[i] = 0
	}
	return
}

// ReadKeyCheck consumes and verifies the key check prefix, failing
// with ErrBadKey on a mismatch.
func (cf *CFB) ReadKeyCheck(r io.Reader) (err error) {
	var check [KeyCheckLength]byte
	if _, err = io.ReadFull(r, check[:]); err != nil {
		return
	}
	cf.Crypt(check[:])
	if check[0] != check[2] || check[1] != check[3] {
		err = ErrBadKey
	}
	check = [KeyCheckLength]byte{}
	return
}

const streamBufSize = 1024

// Stream transforms everything from r to w through the CFB state.
func (cf *CFB) Stream(r io.Reader, w io.Writer) (err error) {
	buf := make([]byte, streamBufSize)
	defer func() {
		for i := range buf {
			buf[i] = 0
		}
	}()
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			cf.Crypt(buf[:n])
			if _, werr := w.Write(buf[:n]); werr != nil {
				err = werr
				return
			}
		}
		if rerr == io.EOF {
			return
		}
		if rerr != nil {
			err = rerr
			return
		}
	}
}
