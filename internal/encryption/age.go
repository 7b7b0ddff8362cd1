package encryption

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"planstore/internal/config"
)

// AgeCodec seals data to an X25519 age recipient. The identity is read from
// an unencrypted key file (mode 0600) since the server must open the mirror
// at startup without an operator present.
type AgeCodec struct {
	publicKeyPath  string
	privateKeyPath string
	recipient      age.Recipient
	identity       age.Identity
}

var _ Codec = (*AgeCodec)(nil)

// NewAgeCodec loads the key pair named in cfg, generating it if neither
// file exists yet.
func NewAgeCodec(cfg config.EncryptionConfig) (*AgeCodec, error) {
	c := &AgeCodec{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
	}
	if !c.IsConfigured() {
		if err := c.Setup(); err != nil {
			return nil, err
		}
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Setup generates a new X25519 key pair and writes both key files.
func (c *AgeCodec) Setup() error {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	for _, p := range []string{c.publicKeyPath, c.privateKeyPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
	}
	if err := os.WriteFile(c.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	if err := os.WriteFile(c.privateKeyPath, []byte(identity.String()+"\n"), 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return nil
}

// IsConfigured returns true if both key files exist.
func (c *AgeCodec) IsConfigured() bool {
	if _, err := os.Stat(c.publicKeyPath); err != nil {
		return false
	}
	if _, err := os.Stat(c.privateKeyPath); err != nil {
		return false
	}
	return true
}

func (c *AgeCodec) load() error {
	pubData, err := os.ReadFile(c.publicKeyPath)
	if err != nil {
		return fmt.Errorf("reading public key: %w", err)
	}
	recipients, err := age.ParseRecipients(bytes.NewReader(pubData))
	if err != nil {
		return fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients found in public key file")
	}

	privData, err := os.ReadFile(c.privateKeyPath)
	if err != nil {
		return fmt.Errorf("reading private key: %w", err)
	}
	identities, err := age.ParseIdentities(bytes.NewReader(privData))
	if err != nil {
		return fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return fmt.Errorf("no identities found in private key")
	}

	c.recipient = recipients[0]
	c.identity = identities[0]
	return nil
}

// Seal encrypts plaintext to the public key.
func (c *AgeCodec) Seal(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, c.recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypting data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	return buf.Bytes(), nil
}

// Open decrypts data sealed by Seal.
func (c *AgeCodec) Open(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), c.identity)
	if err != nil {
		return nil, fmt.Errorf("creating decrypted reader: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decrypting data: %w", err)
	}
	return out, nil
}

func (c *AgeCodec) Ext() string { return ".age" }
