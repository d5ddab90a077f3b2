// Package keyring manages key ring files: ordered concatenations of
// key certificate packets with no framing beyond the packets
// themselves.  New certificates are prepended so they take search
// precedence; removal rewrites the ring through a scratch file.
package keyring

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	"krypt.co/packetkit/bass"
	"krypt.co/packetkit/burn"
	"krypt.co/packetkit/mpint"
	"krypt.co/packetkit/packet"
)

var (
	ErrKeyNotFound = fmt.Errorf("no matching key on ring")
	ErrDuplicate   = fmt.Errorf("key already included in key ring")
)

const lookupCacheSize = 64

// Ring is one key ring file.
type Ring struct {
	Path  string
	cache *lru.Cache // keyID fragment -> cacheEntry
}

type cacheEntry struct {
	cert   *Certificate
	offset int64
	length int64
}

// Open wraps a ring file path.  The file need not exist yet.
func Open(path string) *Ring {
	cache, _ := lru.New(lookupCacheSize)
	return &Ring{Path: path, cache: cache}
}

// scan walks the ring, handing each public view of a certificate to
// visit along with its file offset and packet length.  visit returns
// true to stop the walk.
func (r *Ring) scan(c *mpint.Ctx, visit func(cert *Certificate, offset, length int64) bool) (err error) {
	f, err := os.Open(r.Path)
	if err != nil {
		err = ErrKeyNotFound
		return
	}
	defer f.Close()

	for {
		var offset int64
		if offset, err = f.Seek(0, io.SeekCurrent); err != nil {
			return
		}
		cert, rerr := ReadCertificate(c, f, false, nil)
		if rerr == io.EOF {
			return ErrKeyNotFound
		}
		if rerr != nil {
			return errors.Wrap(rerr, "reading key ring")
		}
		var after int64
		if after, err = f.Seek(0, io.SeekCurrent); err != nil {
			return
		}
		if visit(cert, offset, after-offset) {
			return nil
		}
	}
}

// FindByKeyID returns the first certificate whose key ID fragment
// matches, with its offset and length in the ring file.  Hits are
// served from an LRU cache that ring mutation invalidates.
func (r *Ring) FindByKeyID(c *mpint.Ctx, keyID []byte) (cert *Certificate, offset, length int64, err error) {
	if v, ok := r.cache.Get(string(keyID)); ok {
		entry := v.(cacheEntry)
		// cache hits must still set the precision the way a real
		// read would
		c.SetPrecision(mpint.MaxUnitPrecision)
		c.SetPrecision(mpint.BitsToUnits(c.CountBits(entry.cert.N) + mpint.SlopBits))
		return entry.cert, entry.offset, entry.length, nil
	}
	err = r.scan(c, func(candidate *Certificate, off, l int64) bool {
		if packet.CheckKeyID(c, keyID, candidate.N) {
			cert, offset, length = candidate, off, l
			return true
		}
		return false
	})
	if err == nil && cert == nil {
		err = ErrKeyNotFound
	}
	if err == nil {
		r.cache.Add(string(keyID), cacheEntry{cert, offset, length})
	}
	return
}

// FindByUserID returns the first certificate whose user ID contains
// the target substring, case-insensitively.
func (r *Ring) FindByUserID(c *mpint.Ctx, substr string) (cert *Certificate, offset, length int64, err error) {
	target := strings.ToLower(substr)
	err = r.scan(c, func(candidate *Certificate, off, l int64) bool {
		if strings.Contains(strings.ToLower(candidate.UserID), target) {
			cert, offset, length = candidate, off, l
			return true
		}
		return false
	})
	if err == nil && cert == nil {
		err = ErrKeyNotFound
	}
	return
}

// ReadSecret re-reads the certificate at offset with its secret
// fields, unlocking them with passphrase.  An empty passphrase reads
// the fields unscrambled.  ErrBadPassphrase reports a p*q mismatch.
func (r *Ring) ReadSecret(c *mpint.Ctx, offset int64, passphrase []byte) (cert *Certificate, err error) {
	f, err := os.Open(r.Path)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err = f.Seek(offset, io.SeekStart); err != nil {
		return
	}
	cfb, err := secretFieldCFB(passphrase, true)
	if err != nil {
		return
	}
	if cfb != nil {
		defer cfb.Close()
	}
	cert, err = ReadCertificate(c, f, true, cfb)
	return
}

func secretFieldCFB(passphrase []byte, decrypt bool) (*bass.CFB, error) {
	if len(passphrase) == 0 {
		return nil, nil
	}
	return passphraseCFB(passphrase, decrypt)
}

// scratchName returns a unique scratch path next to the ring, so the
// final rename stays on one filesystem.
func (r *Ring) scratchName() string {
	return filepath.Join(filepath.Dir(r.Path), fmt.Sprintf("ring-%s.tmp", uuid.NewV4()))
}

// Add prepends the certificates in keyfile to the ring, giving them
// search precedence.  A duplicate key is rejected unless the incoming
// certificate is a compromise record, which is always allowed in.
func (r *Ring) Add(c *mpint.Ctx, keyfile string) (err error) {
	defer r.cache.Purge()

	kf, err := os.Open(keyfile)
	if err != nil {
		return errors.Wrap(err, "opening key file")
	}
	defer kf.Close()

	incoming, err := ReadCertificate(c, kf, false, nil)
	if err != nil {
		return errors.Wrap(err, "reading key file")
	}
	keyID := incoming.KeyID(c)
	compromised := incoming.Compromised(c)

	if _, _, _, ferr := r.FindByKeyID(c, keyID[:]); ferr == nil {
		if !compromised { // a compromise record may shadow the original
			return ErrDuplicate
		}
	}

	if _, err = kf.Seek(0, io.SeekStart); err != nil {
		return
	}

	scratch := r.scratchName()
	g, err := os.OpenFile(scratch, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return
	}
	if _, err = io.Copy(g, kf); err != nil {
		g.Close()
		os.Remove(scratch)
		return
	}
	if old, oerr := os.Open(r.Path); oerr == nil {
		_, err = io.Copy(g, old)
		old.Close()
		if err != nil {
			g.Close()
			os.Remove(scratch)
			return
		}
	}
	if err = g.Close(); err != nil {
		os.Remove(scratch)
		return
	}
	return os.Rename(scratch, r.Path)
}

// Remove deletes the certificate at offset/length, rewriting the ring
// through a scratch file.
func (r *Ring) Remove(offset, length int64) (err error) {
	defer r.cache.Purge()

	f, err := os.Open(r.Path)
	if err != nil {
		return
	}
	defer f.Close()

	scratch := r.scratchName()
	g, err := os.OpenFile(scratch, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return
	}
	if _, err = io.CopyN(g, f, offset); err != nil && err != io.EOF {
		g.Close()
		os.Remove(scratch)
		return
	}
	if _, err = f.Seek(offset+length, io.SeekStart); err != nil {
		g.Close()
		os.Remove(scratch)
		return
	}
	if _, err = io.Copy(g, f); err != nil {
		g.Close()
		os.Remove(scratch)
		return
	}
	if err = g.Close(); err != nil {
		os.Remove(scratch)
		return
	}
	return os.Rename(scratch, r.Path)
}

// WriteKeyFiles writes a fresh key pair out as a secret and a public
// certificate file.  The secret fields are locked under passphrase
// when one is given.
func WriteKeyFiles(c *mpint.Ctx, secPath, pubPath string, cert *Certificate, passphrase []byte) (err error) {
	cfb, err := secretFieldCFB(passphrase, false)
	if err != nil {
		return
	}
	if cfb != nil {
		defer cfb.Close()
	}

	sec, err := os.OpenFile(secPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	err = WriteCertificate(c, sec, cert, cfb)
	if cerr := sec.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return
	}

	public := &Certificate{
		CTB:       packet.CTBCertPubKey,
		Timestamp: cert.Timestamp,
		UserID:    cert.UserID,
		N:         cert.N,
		E:         cert.E,
	}
	pub, err := os.OpenFile(pubPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	err = WriteCertificate(c, pub, public, nil)
	if cerr := pub.Close(); err == nil {
		err = cerr
	}
	return
}

// View lists ring entries whose user ID contains substr (everything
// when substr is empty) in the classic tabular format.
func (r *Ring) View(c *mpint.Ctx, w io.Writer, substr string) (count int, err error) {
	target := strings.ToLower(substr)
	fmt.Fprintf(w, "Key ring: '%s'\n", r.Path)
	fmt.Fprintf(w, "Type bits/keyID   Date     User ID\n")
	scanErr := r.scan(c, func(cert *Certificate, off, l int64) bool {
		count++
		if !strings.Contains(strings.ToLower(cert.UserID), target) {
			return false
		}
		kind := "pub"
		if cert.IsSecret() {
			kind = "sec"
		} else if cert.Compromised(c) {
			kind = "com" // key compromise certificate
		}
		keyID := cert.KeyID(c)
		when := time.Unix(int64(cert.Timestamp), 0).UTC().Format("02-Jan-06")
		fmt.Fprintf(w, "%s %4d/%s %s  %s\n",
			kind, c.CountBits(cert.N), packet.FormatKeyID(keyID[:]), when, cert.UserID)
		return false
	})
	if scanErr != ErrKeyNotFound { // the walk always ends at EOF
		err = scanErr
	}
	return
}

// WipeFile destroys a sensitive file through the burn package; kept
// here so callers don't reach around the ring abstraction when
// destroying key files.
func WipeFile(path string) error { return burn.File(path) }
