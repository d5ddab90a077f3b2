package rng

import (
	"io"
	"io/ioutil"
	"os"
	"time"

	"github.com/pkg/errors"

	"krypt.co/packetkit/bass"
	"krypt.co/packetkit/burn"
)

// The persistent seed file holds a 64-byte cipher key (control byte
// included) followed by a 256-byte generator state.  It exists so the
// user is not asked for lengthy keyboard sessions every time a random
// session key is needed: the file is cranked through the keyed
// generator and rewritten with fresh cipher output on every use.

const (
	seedKeyLen   = 64
	seedStateLen = 256
)

var ErrNoSeed = errors.New("no random seed file and no keyboard to build one from")

// Strong generates cryptographically strong pseudorandom bytes from
// the on-disk seed combined with the current time and fresh entropy.
type Strong struct {
	Path   string    // seed file location
	Pool   *Pool     // entropy supply, always consulted
	Keys   io.Reader // keyboard, for first-time seed construction
	Prompt io.Writer // where to ask for keystrokes
}

// Read fills buf with strong pseudorandom bytes and rewrites the seed
// file so the next invocation starts from new state.  An empty or
// missing seed file is rebuilt from true entropy first.
func (s *Strong) Read(buf []byte) (err error) {
	var key [seedKeyLen]byte
	var seed [seedStateLen]byte
	defer burn.Bytes(key[:])
	defer burn.Bytes(seed[:])

	existing, readErr := ioutil.ReadFile(s.Path)
	if readErr != nil || len(existing) < seedKeyLen {
		// No usable seed.  Kickstart the generator with true
		// randomness from keystroke timing.
		if s.Keys == nil {
			err = ErrNoSeed
			return
		}
		if err = s.Pool.Accumulate(s.Keys, s.Prompt, 8*(seedKeyLen+32)); err != nil {
			return
		}
		for i := 1; i < seedKeyLen; i++ {
			key[i] ^= s.Pool.Byte()
		}
		for i := 0; i < seedStateLen; i++ {
			seed[i] ^= s.Pool.Byte()
		}
	} else {
		copy(key[:], existing)
		copy(seed[:], existing[seedKeyLen:])
		burn.Bytes(existing)
	}

	// Fold the clock into the key so two runs differ even with an
	// unchanged seed file.
	now := uint32(time.Now().Unix())
	for i := 0; i < 4; i++ {
		key[i+1] ^= byte(now >> uint(8*i))
	}
	key[0] = 0x0f // generator key control byte

	gen, err := bass.NewRand(key[:], seed[:])
	if err != nil {
		return
	}
	// The seed state cycles through the cipher once before any
	// output is handed out.
	for i := range buf {
		buf[i] = gen.Byte() ^ s.Pool.Byte()
	}

	// Cover up any trace of what the caller received before the
	// state goes back to disk.
	for i := 1; i < seedKeyLen; i++ {
		key[i] ^= gen.Byte() ^ s.Pool.Byte()
	}
	for i := 0; i < seedStateLen; i++ {
		seed[i] = gen.Byte() ^ s.Pool.Byte()
	}
	gen.Close()

	err = s.rewrite(key[:], seed[:])
	return
}

// rewrite replaces the seed file atomically so a crash cannot leave a
// truncated seed behind.
func (s *Strong) rewrite(key, seed []byte) (err error) {
	tmp := s.Path + ".new"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		err = errors.Wrap(err, "rewriting random seed")
		return
	}
	if _, err = f.Write(key); err == nil {
		_, err = f.Write(seed)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		err = errors.Wrap(err, "rewriting random seed")
		return
	}
	err = os.Rename(tmp, s.Path)
	return
}

// SessionKey makes a random conventional session key of keybytes key
// bytes plus a leading control byte graded to the key length.
func (s *Strong) SessionKey(keybytes int) (key []byte, err error) {
	key = make([]byte, keybytes+1)
	key[0] = 0x1f // military grade
	if keybytes <= 24 {
		key[0] = 0x12 // commercial grade
	}
	if keybytes <= 16 {
		key[0] = 0x00 // casual grade
	}

	if err = s.Read(key[1:]); err == nil {
		return
	}

	// No seed file available; fall back to raw keystroke entropy.
	if s.Keys == nil {
		burn.Bytes(key)
		key = nil
		return
	}
	err = s.Pool.Accumulate(s.Keys, s.Prompt, keybytes*8)
	if err != nil {
		burn.Bytes(key)
		key = nil
		return
	}
	for i := 1; i <= keybytes; i++ {
		key[i] = s.Pool.Byte()
	}
	return
}
