// Package persist resolves where the key rings and the random seed
// live on disk.  Everything defaults to a dot directory in the user's
// home, overridable with the PKHOME environment variable.
package persist

import (
	"os"
	"os/user"
	"path/filepath"
)

const (
	homeDirName = ".packetkit"

	PublicRingFilename = "keyring.pub"
	SecretRingFilename = "keyring.sec"
	RandSeedFilename   = "randseed.bin"
)

// HomeDir returns the configuration directory, creating it if needed.
func HomeDir() (home string, err error) {
	if env := os.Getenv("PKHOME"); env != "" {
		home = env
	} else {
		var u *user.User
		if u, err = user.Current(); err != nil {
			return
		}
		home = filepath.Join(u.HomeDir, homeDirName)
	}
	err = os.MkdirAll(home, 0700)
	return
}

// PublicRingPath returns the default public key ring location.
func PublicRingPath() (string, error) { return inHome(PublicRingFilename) }

// SecretRingPath returns the default secret key ring location.
func SecretRingPath() (string, error) { return inHome(SecretRingFilename) }

// RandSeedPath returns the persistent random seed location.
func RandSeedPath() (string, error) { return inHome(RandSeedFilename) }

func inHome(name string) (path string, err error) {
	home, err := HomeDir()
	if err != nil {
		return
	}
	path = filepath.Join(home, name)
	return
}
