//go:build !unix

package document

func isCrossDevice(error) bool { return false }

// Directory handles cannot be synced on this platform.
func syncDir(string) error { return nil }
