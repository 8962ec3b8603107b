// Package crypto implements server-side password hashing and verification.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/and161185/tvkeeper/internal/model"
)

// AlgArgon2id is the algorithm tag stored next to every digest.
const AlgArgon2id = "argon2id"

// Upper bounds for parameters read back from a stored digest.
const (
	maxMemoryKiB   uint32 = 1024 * 1024 // 1 GiB
	maxIterations  uint32 = 64
	maxParallelism uint8  = 64
	minKeyLen             = 16
	maxKeyLen             = 128
	minSaltLen            = 8
	maxSaltLen            = 64
)

// ErrInvalidHash is returned by decoding when a digest is malformed or unsupported.
var ErrInvalidHash = errors.New("invalid argon2id hash")

// Params are the Argon2id cost parameters (tuned for server-side hashing).
type Params struct {
	Memory  uint32 // KiB
	Time    uint32 // iterations
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

// DefaultParams returns m=64 MiB, t=3, p=1 with a 16 byte salt and 32 byte key.
func DefaultParams() Params {
	return Params{
		Memory:  64 * 1024,
		Time:    3,
		Threads: 1,
		SaltLen: 16,
		KeyLen:  32,
	}
}

// Meta returns the snapshot persisted alongside a digest.
func (p Params) Meta() model.HashParams {
	return model.HashParams{MemoryCost: p.Memory, TimeCost: p.Time, Parallelism: p.Threads}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.Memory == 0 {
		p.Memory = d.Memory
	}
	if p.Time == 0 {
		p.Time = d.Time
	}
	if p.Threads == 0 {
		p.Threads = d.Threads
	}
	if p.SaltLen == 0 {
		p.SaltLen = d.SaltLen
	}
	if p.KeyLen == 0 {
		p.KeyLen = d.KeyLen
	}
	return p
}

// VerifyResult is the outcome of Verify. NeedsRehash is only meaningful when OK is true.
type VerifyResult struct {
	OK          bool
	NeedsRehash bool
}

// Hasher hashes and verifies passwords with fixed process-wide parameters.
type Hasher struct {
	params Params
}

// NewHasher constructs a Hasher; zero fields of p fall back to DefaultParams.
func NewHasher(p Params) *Hasher {
	return &Hasher{params: p.withDefaults()}
}

// Params returns the current parameters.
func (h *Hasher) Params() Params { return h.params }

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// Hash returns a PHC string: $argon2id$v=19$m=65536,t=3,p=1$<salt>$<key>.
// Every call uses a fresh salt.
func (h *Hasher) Hash(password string) (string, error) {
	salt, err := RandBytes(int(h.params.SaltLen))
	if err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		AlgArgon2id,
		argon2.Version,
		h.params.Memory, h.params.Time, h.params.Threads,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

// Verify checks password against encoded. It never returns an error: a digest that
// cannot be decoded, or a KDF panic, counts as a mismatch.
func (h *Hasher) Verify(encoded, password string) (res VerifyResult) {
	defer func() {
		if r := recover(); r != nil {
			res = VerifyResult{}
		}
	}()

	params, salt, expected, err := decode(encoded)
	if err != nil {
		return VerifyResult{}
	}
	key := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, params.KeyLen)
	if subtle.ConstantTimeCompare(key, expected) != 1 {
		return VerifyResult{}
	}
	return VerifyResult{OK: true, NeedsRehash: needsRehash(params, h.params)}
}

// NeedsRehash reports whether encoded was produced with weaker parameters than the hasher's.
func (h *Hasher) NeedsRehash(encoded string) bool {
	return NeedsRehash(encoded, h.params)
}

// NeedsRehash reports whether encoded was produced with weaker parameters than current.
// Undecodable digests always need a rehash.
func NeedsRehash(encoded string, current Params) bool {
	params, _, _, err := decode(encoded)
	if err != nil {
		return true
	}
	return needsRehash(params, current.withDefaults())
}

func needsRehash(got, current Params) bool {
	return got.Memory < current.Memory ||
		got.Time < current.Time ||
		got.Threads < current.Threads ||
		got.KeyLen != current.KeyLen
}

// decode parses a PHC string into its parameters, salt and key.
func decode(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != AlgArgon2id {
		return Params{}, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Params{}, nil, nil, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || mem > maxMemoryKiB || it == 0 || it > maxIterations || par == 0 || par > uint32(maxParallelism) {
		return Params{}, nil, nil, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) < minSaltLen || len(salt) > maxSaltLen {
		return Params{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) < minKeyLen || len(key) > maxKeyLen {
		return Params{}, nil, nil, ErrInvalidHash
	}

	return Params{
		Memory:  mem,
		Time:    it,
		Threads: uint8(par), // #nosec G115 -- bounded by maxParallelism above
		SaltLen: uint32(len(salt)),
		KeyLen:  uint32(len(key)),
	}, salt, key, nil
}
