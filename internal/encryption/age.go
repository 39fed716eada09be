package encryption

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"balloon-go/internal/config"
)

// AgeCipher manages an X25519 key pair for filippo.io/age.
// The public key is stored in plaintext; the private key is encrypted with the
// user's passphrase using age's scrypt-based passphrase encryption.
type AgeCipher struct {
	publicKeyPath  string
	privateKeyPath string
}

// NewAgeCipher creates a new AgeCipher from configuration.
func NewAgeCipher(cfg config.EncryptionConfig) *AgeCipher {
	return &AgeCipher{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
	}
}

// Setup generates a new X25519 key pair, stores the public key in plaintext,
// and encrypts the private key with the passphrase.
func (c *AgeCipher) Setup(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase must not be empty")
	}
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.publicKeyPath), 0700); err != nil {
		return fmt.Errorf("creating public key directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.privateKeyPath), 0700); err != nil {
		return fmt.Errorf("creating private key directory: %w", err)
	}

	if err := os.WriteFile(c.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	privFile, err := os.OpenFile(c.privateKeyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating private key file: %w", err)
	}
	defer privFile.Close()

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	w, err := age.Encrypt(privFile, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return fmt.Errorf("writing encrypted private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted private key: %w", err)
	}

	return nil
}

// Unlock decrypts the private key using the passphrase and returns a Keyring
// able to both seal and open objects.
func (c *AgeCipher) Unlock(passphrase string) (*Keyring, error) {
	recipient, err := c.loadRecipient()
	if err != nil {
		return nil, fmt.Errorf("loading public key: %w", err)
	}

	privData, err := os.ReadFile(c.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	decReader, err := age.Decrypt(bytes.NewReader(privData), scrypt)
	if err != nil {
		return nil, fmt.Errorf("decrypting private key: %w", err)
	}

	identities, err := age.ParseIdentities(decReader)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in private key")
	}

	return &Keyring{recipient: recipient, identity: identities[0]}, nil
}

// IsConfigured returns true if both key files exist.
func (c *AgeCipher) IsConfigured() bool {
	if _, err := os.Stat(c.publicKeyPath); err != nil {
		return false
	}
	if _, err := os.Stat(c.privateKeyPath); err != nil {
		return false
	}
	return true
}

func (c *AgeCipher) loadRecipient() (age.Recipient, error) {
	pubData, err := os.ReadFile(c.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}

	recipients, err := age.ParseRecipients(bytes.NewReader(pubData))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients found in public key file")
	}

	return recipients[0], nil
}

// Keyring holds an unlocked age identity together with its recipient.
type Keyring struct {
	recipient age.Recipient
	identity  age.Identity
}

// NewKeyring wraps an X25519 identity directly, bypassing the key files.
func NewKeyring(identity *age.X25519Identity) *Keyring {
	return &Keyring{recipient: identity.Recipient(), identity: identity}
}

// Seal returns a writer that encrypts everything written to it into w.
// Close must be called to flush the final chunk.
func (k *Keyring) Seal(w io.Writer) (io.WriteCloser, error) {
	encWriter, err := age.Encrypt(w, k.recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	return encWriter, nil
}

// Open returns a reader that decrypts r.
func (k *Keyring) Open(r io.Reader) (io.Reader, error) {
	decReader, err := age.Decrypt(r, k.identity)
	if err != nil {
		return nil, fmt.Errorf("creating decrypted reader: %w", err)
	}
	return decReader, nil
}
