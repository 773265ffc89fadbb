//go:build unix

package pipe

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

func mkfifo(path string) error {
	return unix.Mkfifo(path, 0600)
}

// openWriter opens the write end without blocking. The kernel refuses with
// ENXIO while nobody holds the read end.
func openWriter(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return nil, errNoReader
		}
		return nil, err
	}
	return f, nil
}
