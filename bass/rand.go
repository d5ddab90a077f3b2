package bass

// brand is the cipher-driven pseudo-random generator used for
// second-tier key schedule generation: the cipher feeds its output
// back into itself to produce a stream of random blocks.
type brand struct {
	c       *Cipher
	buf     *[256]byte
	counter byte
}

// newBrand seeds the generator with key material, topped up with
// LFSR output.
func newBrand(c *Cipher, seed []byte) *brand {
	r := &brand{c: c, buf: new([256]byte)}
	if len(seed) > 256 {
		seed = seed[:256]
	}
	copy(r.buf[:], seed)
	for i := len(seed); i < 256; i++ {
		r.buf[i] = c.lfsrByte()
	}
	return r
}

func (r *brand) next() byte {
	if r.counter == 0 { // random buffer is spent
		var tmp [256]byte
		r.c.Block(r.buf, &tmp)
		*r.buf = tmp
		wipe(&tmp)
	}
	r.counter--
	return r.buf[r.counter]
}

func (r *brand) close() {
	wipe(r.buf)
}

// Rand is the keyed cryptographic generator exposed for use outside
// the cipher, e.g. to crank the persistent random seed.  It must be
// closed to destroy its state.
type Rand struct {
	c       *Cipher
	buf     [256]byte
	counter byte
}

// NewRand keys a generator and seeds its output buffer.
func NewRand(key, seed []byte) (r *Rand, err error) {
	c, err := New(key, false)
	if err != nil {
		return
	}
	r = &Rand{c: c}
	if len(seed) > 256 {
		seed = seed[:256]
	}
	copy(r.buf[:], seed)
	return
}

// Byte returns the next generator byte.  The seed block is cycled
// through the cipher once before any output is produced.
func (r *Rand) Byte() byte {
	if r.counter == 0 {
		var tmp [256]byte
		r.c.Block(&r.buf, &tmp)
		r.buf = tmp
		wipe(&tmp)
	}
	r.counter--
	return r.buf[r.counter]
}

// Close destroys the generator state and its key schedule.
func (r *Rand) Close() {
	wipe(&r.buf)
	r.c.Close()
}
