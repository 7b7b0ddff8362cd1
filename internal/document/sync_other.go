//go:build !linux

package document

import "os"

func syncFile(f *os.File) error {
	return f.Sync()
}
