//go:build linux

package document

import (
	"os"

	"golang.org/x/sys/unix"
)

// syncFile flushes file data to stable storage. Metadata other than size is
// not needed for crash safety, so fdatasync is enough.
func syncFile(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
