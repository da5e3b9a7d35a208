// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// OWASP-recommended argon2id parameters.
const (
	argon2Time    = 1         // iterations
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 4
	argon2SaltLen = 16
	argon2KeyLen  = 32
)

// Argon2idHasher hashes and verifies passwords with argon2id.
type Argon2idHasher struct{}

// NewArgon2idHasher returns a hasher using the default parameters.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{}
}

// Hash returns the PHC-encoded argon2id hash of password with a random salt.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code(CodeSaltFailed).Wrap(err)
	}
	p := phc{
		memory:  argon2Memory,
		time:    argon2Time,
		threads: argon2Threads,
		salt:    salt,
	}
	p.key = argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, argon2KeyLen)
	return p.String(), nil
}

// Verify reports whether password matches encoded. A malformed hash is an
// error with code AUTH_INVALID_HASH.
func (h *Argon2idHasher) Verify(password, encoded string) (bool, error) {
	p, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, uint32(len(p.key))) //nolint:gosec // key length checked in parsePHC
	return subtle.ConstantTimeCompare(computed, p.key) == 1, nil
}

// CheckHash validates encoded without verifying a password.
func CheckHash(encoded string) error {
	_, err := parsePHC(encoded)
	return err
}

// phc is a decoded argon2id hash string.
type phc struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func (p phc) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.time, p.threads,
		base64.RawStdEncoding.EncodeToString(p.salt),
		base64.RawStdEncoding.EncodeToString(p.key))
}

func parsePHC(encoded string) (phc, error) {
	var p phc
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return p, invalidHash("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return p, invalidHash("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, oops.Code(CodeInvalidHash).Wrap(err)
	}
	if version != argon2.Version {
		return p, invalidHash("unsupported argon2 version %d", version)
	}

	var threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &threads); err != nil {
		return p, oops.Code(CodeInvalidHash).Wrap(err)
	}
	if threads == 0 || threads > 255 {
		return p, invalidHash("threads value %d out of range", threads)
	}
	if p.time == 0 || p.memory == 0 {
		return p, invalidHash("time and memory must be positive")
	}
	p.threads = uint8(threads)

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return p, oops.Code(CodeInvalidHash).Wrap(err)
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return p, oops.Code(CodeInvalidHash).Wrap(err)
	}
	if len(p.key) == 0 || len(p.key) > 1<<10 {
		return p, invalidHash("invalid hash key length: %d", len(p.key))
	}
	return p, nil
}
