// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package vault stores uploaded documents encrypted at rest.
//
// Each (owner, filename) pair is sealed with XChaCha20-Poly1305 into a
// single file whose name is built from keyed BLAKE2b hashes, so neither
// the owner nor the filename appears on disk. Both are bound to the
// ciphertext as additional data, so a file renamed on disk fails to open.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-crypt/x/blake2b"
	"github.com/poiesic/ragchat/core"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	fileExt  = ".enc"
	nameSize = 16
)

// Vault is an encrypted document directory. It is safe for concurrent use;
// concurrent writes of the same document leave one complete copy.
type Vault struct {
	dir     string
	aead    cipher.AEAD
	nameKey []byte
	logger  *slog.Logger
}

// Option configures a Vault.
type Option func(*Vault) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(v *Vault) error {
		if logger == nil {
			logger = slog.Default()
		}
		v.logger = logger.With("component", "vault")
		return nil
	}
}

// Open creates dir if needed and returns a vault sealed with key.
func Open(dir string, key []byte, opts ...Option) (*Vault, error) {
	if dir == "" {
		return nil, ErrDirRequired
	}
	if len(key) == 0 {
		return nil, ErrKeyRequired
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrInvalidKey, len(key), KeySize)
	}

	dataKey, err := derive(key, "ragchat vault data")
	if err != nil {
		return nil, err
	}
	nameKey, err := derive(key, "ragchat vault names")
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(dataKey)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating vault directory: %w", err)
	}

	v := &Vault{
		dir:     dir,
		aead:    aead,
		nameKey: nameKey,
		logger:  slog.Default().With("component", "vault"),
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Dir returns the vault directory.
func (v *Vault) Dir() string {
	return v.dir
}

// Put encrypts raw and stores it for owner, replacing any earlier copy.
func (v *Vault) Put(owner, filename string, raw []byte) error {
	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(raw)+v.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := v.aead.Seal(nonce, nonce, raw, additionalData(owner, filename))

	path := v.path(owner, filename)
	tmp, err := os.CreateTemp(v.dir, ".put-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	v.logger.Debug("stored encrypted document", "file", filepath.Base(path), "bytes", len(raw))
	return nil
}

// Get decrypts owner's copy of filename. A missing copy is core.ErrNotFound.
func (v *Vault) Get(owner, filename string) ([]byte, error) {
	sealed, err := os.ReadFile(v.path(owner, filename))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", core.ErrNotFound, filename)
	}
	if err != nil {
		return nil, err
	}
	if len(sealed) < v.aead.NonceSize() {
		return nil, ErrDecryptFailed
	}
	nonce, ciphertext := sealed[:v.aead.NonceSize()], sealed[v.aead.NonceSize():]
	raw, err := v.aead.Open(nil, nonce, ciphertext, additionalData(owner, filename))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecryptFailed, filename)
	}
	return raw, nil
}

// DeleteFile removes every owner's copy of filename and returns how many
// were removed.
func (v *Vault) DeleteFile(filename string) (int, error) {
	prefix := v.hash(filename) + "."
	entries, err := os.ReadDir(v.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		if err := os.Remove(filepath.Join(v.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		v.logger.Info("removed encrypted copies", "count", removed)
	}
	return removed, nil
}

// Clear removes every stored document and returns how many were removed.
func (v *Vault) Clear() (int, error) {
	entries, err := os.ReadDir(v.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		if err := os.Remove(filepath.Join(v.dir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// path is <hash(filename)>.<hash(owner)>.enc so every copy of a filename
// shares a prefix.
func (v *Vault) path(owner, filename string) string {
	return filepath.Join(v.dir, v.hash(filename)+"."+v.hash(owner)+fileExt)
}

func (v *Vault) hash(s string) string {
	h, _ := blake2b.New(nameSize, v.nameKey)
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

func derive(key []byte, label string) ([]byte, error) {
	h, err := blake2b.New(KeySize, key)
	if err != nil {
		return nil, err
	}
	h.Write([]byte(label))
	return h.Sum(nil), nil
}

func additionalData(owner, filename string) []byte {
	ad := make([]byte, 0, len(owner)+1+len(filename))
	ad = append(ad, owner...)
	ad = append(ad, 0)
	return append(ad, filename...)
}
