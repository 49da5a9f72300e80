package service

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"wallet-service/config"

	"golang.org/x/crypto/argon2"
)

const (
	defaultArgon2Time     = 1
	defaultArgon2MemoryKB = 64 * 1024
	defaultArgon2Threads  = 4
	argon2KeyLen          = 32
	argon2SaltLen         = 16
)

var errMalformedHash = errors.New("malformed password hash")

// argon2Params are the tunables recorded in every encoded hash.
type argon2Params struct {
	time    uint32
	memory  uint32
	threads uint8
	keyLen  uint32
}

// Argon2HashService implements ports.HashService. Passwords go through
// Argon2id; API key secrets and reset tokens are already random, so they
// are stored as a plain SHA-256 digest.
type Argon2HashService struct {
	params argon2Params
}

// NewArgon2HashService builds the service from cfg, filling zero values
// with defaults.
func NewArgon2HashService(cfg config.Argon2Config) *Argon2HashService {
	p := argon2Params{
		time:    cfg.Time,
		memory:  cfg.MemoryKB,
		threads: cfg.Threads,
		keyLen:  argon2KeyLen,
	}
	if p.time == 0 {
		p.time = defaultArgon2Time
	}
	if p.memory == 0 {
		p.memory = defaultArgon2MemoryKB
	}
	if p.threads == 0 {
		p.threads = defaultArgon2Threads
	}
	return &Argon2HashService{params: p}
}

// Hash returns a PHC-style string:
// $argon2id$v=19$m=<kb>,t=<time>,p=<threads>$<salt>$<key>
func (s *Argon2HashService) Hash(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	p := s.params
	key := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.time, p.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks password against an encoded hash using the parameters the
// hash was created with, not the current ones.
func (s *Argon2HashService) Verify(password, encoded string) (bool, error) {
	p, salt, key, err := parseArgon2Hash(encoded)
	if err != nil {
		return false, err
	}
	other := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLen)
	return subtle.ConstantTimeCompare(key, other) == 1, nil
}

// Digest returns the hex SHA-256 of secret.
func (s *Argon2HashService) Digest(secret string) string {
	return DigestSecret(secret)
}

// DigestSecret is the lookup digest for API key secrets and reset tokens.
func DigestSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func parseArgon2Hash(encoded string) (argon2Params, []byte, []byte, error) {
	var p argon2Params

	// leading "$" yields an empty first field
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" {
		return p, nil, nil, errMalformedHash
	}
	if fields[1] != "argon2id" {
		return p, nil, nil, fmt.Errorf("unsupported algorithm %q", fields[1])
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil {
		return p, nil, nil, fmt.Errorf("%w: version: %v", errMalformedHash, err)
	}
	if version != argon2.Version {
		return p, nil, nil, fmt.Errorf("unsupported argon2 version %d", version)
	}

	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return p, nil, nil, fmt.Errorf("%w: params: %v", errMalformedHash, err)
	}
	if p.memory == 0 || p.time == 0 || p.threads == 0 {
		return p, nil, nil, fmt.Errorf("%w: zero parameter", errMalformedHash)
	}

	salt, err := base64.RawStdEncoding.DecodeString(fields[4])
	if err != nil {
		return p, nil, nil, fmt.Errorf("%w: salt: %v", errMalformedHash, err)
	}
	key, err := base64.RawStdEncoding.DecodeString(fields[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, fmt.Errorf("%w: key", errMalformedHash)
	}
	p.keyLen = uint32(len(key))

	return p, salt, key, nil
}
