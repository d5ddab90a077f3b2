// Package burn wipes sensitive material before it goes out of scope.
// Every routine that touches key bytes, passphrases, or recovered
// plaintext is expected to zero its scratch on all exit paths.
package burn

import (
	"os"
)

// Bytes overwrites b with zeros.
func Bytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Words overwrites a unit register with zeros.
func Words(w []uint16) {
	for i := range w {
		w[i] = 0
	}
}

const diskBufSize = 1024

// File overwrites the contents of the file at path with zeros and then
// removes it.  Used to destroy plaintext left on disk.
func File(path string) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0600)
	if err != nil {
		return
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return
	}
	var zeros [diskBufSize]byte
	remaining := info.Size()
	for remaining > 0 {
		n := int64(diskBufSize)
		if remaining < n {
			n = remaining
		}
		if _, err = f.Write(zeros[:n]); err != nil {
			break
		}
		remaining -= n
	}
	f.Sync()
	f.Close()
	if err != nil {
		return
	}
	err = os.Remove(path)
	return
}
