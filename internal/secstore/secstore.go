// Package secstore is a filesystem object store whose contents are encrypted
// to a set of recipient public keys. Each object carries its payload sealed
// with a fresh symmetric key, and that key sealed once per recipient, so any
// single recipient private key can open it.
package secstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/verdantis/emissary/internal/model"
	"github.com/verdantis/emissary/internal/service/manifest"
)

// ErrNotDecryptable is returned when none of an object's sealed keys opens
// with the given private key.
var ErrNotDecryptable = errors.New("secstore: content is not encrypted to this key")

// KeyPair is a hex-encoded curve25519 key pair.
type KeyPair struct {
	Public  string
	Private string
}

// GenerateKeyPair creates a fresh recipient key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("secstore: generate key pair: %w", err)
	}
	return KeyPair{
		Public:  hex.EncodeToString(pub[:]),
		Private: hex.EncodeToString(priv[:]),
	}, nil
}

// WriteKeyPair generates a key pair and writes it as <name>-public.key and
// <name>-private.key under dir. It returns the two paths.
func WriteKeyPair(dir, name string) (publicPath, privatePath string, err error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return "", "", err
	}
	publicPath = filepath.Join(dir, name+"-public.key")
	privatePath = filepath.Join(dir, name+"-private.key")
	if err := os.WriteFile(publicPath, []byte(kp.Public+"\n"), 0o644); err != nil {
		return "", "", fmt.Errorf("secstore: write public key: %w", err)
	}
	if err := os.WriteFile(privatePath, []byte(kp.Private+"\n"), 0o600); err != nil {
		return "", "", fmt.Errorf("secstore: write private key: %w", err)
	}
	return publicPath, privatePath, nil
}

// envelope is the stored object layout.
type envelope struct {
	Filename   string        `json:"filename"`
	Nonce      string        `json:"nonce"`
	Ciphertext string        `json:"ciphertext"`
	Keys       []envelopeKey `json:"keys"`
}

type envelopeKey struct {
	Name   string `json:"name,omitempty"`
	Sealed string `json:"sealed"`
}

// Store keeps encrypted objects under a directory, one file per object id.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New creates a Store rooted at dir, creating it if needed.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("secstore: create store dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Upload encrypts content to every recipient and stores it. The returned
// locator is the object id a recipient uses to fetch it back.
func (s *Store) Upload(_ context.Context, filename string, content []byte, recipients []manifest.RecipientKey) (model.StoredObject, error) {
	var contentKey [32]byte
	if _, err := rand.Read(contentKey[:]); err != nil {
		return model.StoredObject{}, fmt.Errorf("secstore: generate content key: %w", err)
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return model.StoredObject{}, fmt.Errorf("secstore: generate nonce: %w", err)
	}

	env := envelope{
		Filename:   filename,
		Nonce:      hex.EncodeToString(nonce[:]),
		Ciphertext: base64.StdEncoding.EncodeToString(secretbox.Seal(nil, content, &nonce, &contentKey)),
	}
	for _, r := range recipients {
		pub, err := decodeKey(r.Key)
		if err != nil {
			return model.StoredObject{}, fmt.Errorf("secstore: recipient %q: %w", r.Name, err)
		}
		sealed, err := box.SealAnonymous(nil, contentKey[:], pub, rand.Reader)
		if err != nil {
			return model.StoredObject{}, fmt.Errorf("secstore: seal key for %q: %w", r.Name, err)
		}
		env.Keys = append(env.Keys, envelopeKey{
			Name:   r.Name,
			Sealed: base64.StdEncoding.EncodeToString(sealed),
		})
	}

	id := uuid.NewString()
	data, err := json.Marshal(env)
	if err != nil {
		return model.StoredObject{}, fmt.Errorf("secstore: marshal envelope: %w", err)
	}
	path := filepath.Join(s.dir, id)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return model.StoredObject{}, fmt.Errorf("secstore: write object: %w", err)
	}
	s.logger.Debug("stored encrypted object", "id", id, "filename", filename, "recipients", len(recipients))
	return model.StoredObject{Path: path, Locator: id}, nil
}

// Download fetches an object by locator and decrypts it with a recipient
// private key (hex).
func (s *Store) Download(_ context.Context, locator string, privateKey string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.Base(locator)))
	if err != nil {
		return nil, fmt.Errorf("secstore: read object %s: %w", locator, err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("secstore: decode envelope: %w", err)
	}

	priv, err := decodeKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("secstore: private key: %w", err)
	}
	pubBytes, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("secstore: derive public key: %w", err)
	}
	var pub [32]byte
	copy(pub[:], pubBytes)

	var contentKey [32]byte
	opened := false
	for _, k := range env.Keys {
		sealed, err := base64.StdEncoding.DecodeString(k.Sealed)
		if err != nil {
			continue
		}
		if key, ok := box.OpenAnonymous(nil, sealed, &pub, priv); ok && len(key) == 32 {
			copy(contentKey[:], key)
			opened = true
			break
		}
	}
	if !opened {
		return nil, ErrNotDecryptable
	}

	nonceBytes, err := hex.DecodeString(env.Nonce)
	if err != nil || len(nonceBytes) != 24 {
		return nil, errors.New("secstore: malformed envelope nonce")
	}
	var nonce [24]byte
	copy(nonce[:], nonceBytes)
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("secstore: decode ciphertext: %w", err)
	}
	content, ok := secretbox.Open(nil, ciphertext, &nonce, &contentKey)
	if !ok {
		return nil, errors.New("secstore: content authentication failed")
	}
	return content, nil
}

func decodeKey(s string) (*[32]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return nil, errors.New("not a hex-encoded 32-byte key")
	}
	var key [32]byte
	copy(key[:], b)
	return &key, nil
}
