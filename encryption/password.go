package encryption

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// PasswordParams argon2id cost parameters
type PasswordParams struct {
	// MemoryKiB memory cost in KiB
	MemoryKiB uint32 `json:"memory_kib" mapstructure:"memory_kib" validate:"gte=8"`
	// Iterations time cost
	Iterations uint32 `json:"iterations" mapstructure:"iterations" validate:"gte=1"`
	// Parallelism lane count
	Parallelism uint8 `json:"parallelism" mapstructure:"parallelism" validate:"gte=1"`
}

// DefaultPasswordParams argon2id cost used when none is configured
func DefaultPasswordParams() PasswordParams {
	return PasswordParams{MemoryKiB: 19456, Iterations: 2, Parallelism: 1}
}

const (
	passwordSaltLen = 16
	passwordKeyLen  = 32
)

/*
PasswordHasher one-way share link password hashing.

Hashes are self-describing PHC strings, so changing the cost parameters does not break
verification of older hashes.
*/
type PasswordHasher struct {
	params PasswordParams
	rng    io.Reader
	// decoy a hash of a random secret, checked when no real hash exists
	decoy string
}

/*
NewPasswordHasher define new password hasher

	@param params PasswordParams - argon2id cost
	@param rng io.Reader - randomness source for salts
	@returns hasher instance
*/
func NewPasswordHasher(params PasswordParams, rng io.Reader) (*PasswordHasher, error) {
	instance := &PasswordHasher{params: params, rng: rng}

	decoySecret := make([]byte, passwordKeyLen)
	if _, err := io.ReadFull(rng, decoySecret); err != nil {
		return nil, fmt.Errorf("failed to generate decoy secret [%w]", err)
	}
	decoy, err := instance.Hash(base64.RawStdEncoding.EncodeToString(decoySecret))
	if err != nil {
		return nil, err
	}
	instance.decoy = decoy

	return instance, nil
}

/*
Hash hash a password

	@param password string - the password
	@returns the encoded hash
*/
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, passwordSaltLen)
	if _, err := io.ReadFull(h.rng, salt); err != nil {
		return "", fmt.Errorf("failed to generate password salt [%w]", err)
	}

	key := argon2.IDKey(
		[]byte(password), salt, h.params.Iterations, h.params.MemoryKiB, h.params.Parallelism,
		passwordKeyLen,
	)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

/*
Verify compare a password against an encoded hash in constant time.

An empty encoded hash is checked against the decoy hash, so the cost of a rejection
does not reveal whether a password was ever set.

	@param encoded string - the encoded hash
	@param password string - the supplied password
	@returns whether the password matches
*/
func (h *PasswordHasher) Verify(encoded string, password string) bool {
	hasHash := encoded != ""
	if !hasHash {
		encoded = h.decoy
	}

	params, salt, expected, err := decodePasswordHash(encoded)
	if err != nil {
		// Spend the same work so a malformed hash is not distinguishable either
		params, salt, expected, _ = decodePasswordHash(h.decoy)
		hasHash = false
	}

	computed := argon2.IDKey(
		[]byte(password),
		salt,
		params.Iterations,
		params.MemoryKiB,
		params.Parallelism,
		uint32(len(expected)),
	)

	match := subtle.ConstantTimeCompare(computed, expected) == 1
	return match && hasHash
}

// decodePasswordHash parse a PHC argon2id string
func decodePasswordHash(encoded string) (PasswordParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return PasswordParams{}, nil, nil, fmt.Errorf("not an argon2id hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return PasswordParams{}, nil, nil, fmt.Errorf("unparsable argon2id version [%w]", err)
	}
	if version != argon2.Version {
		return PasswordParams{}, nil, nil, fmt.Errorf("unsupported argon2id version %d", version)
	}

	var params PasswordParams
	if _, err := fmt.Sscanf(
		parts[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Iterations, &params.Parallelism,
	); err != nil {
		return PasswordParams{}, nil, nil, fmt.Errorf("unparsable argon2id parameters [%w]", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return PasswordParams{}, nil, nil, fmt.Errorf("unparsable argon2id salt [%w]", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return PasswordParams{}, nil, nil, fmt.Errorf("unparsable argon2id key")
	}

	return params, salt, key, nil
}
