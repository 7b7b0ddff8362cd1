// Package encryption seals small state files, such as the session mirror,
// before they are written to disk.
package encryption

// Codec transforms a state file's bytes on the way to and from disk.
type Codec interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
	// Ext is appended to the file name the codec's output is stored under.
	Ext() string
}

// PlainCodec stores bytes unchanged.
type PlainCodec struct{}

func (PlainCodec) Seal(p []byte) ([]byte, error) { return p, nil }
func (PlainCodec) Open(c []byte) ([]byte, error) { return c, nil }
func (PlainCodec) Ext() string                  { return "" }
