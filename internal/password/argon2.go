// Package password hashes credentials with Argon2id and enforces the
// account password policy.
//
// Hashes are stored in PHC string format
// ($argon2id$v=19$m=...,t=...,p=...$salt$hash) so parameters travel with
// the hash and old hashes stay verifiable after a parameter bump.
// NeedsUpgrade reports when a stored hash is weaker than the current
// parameters; callers rehash on the next successful login.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID = "argon2id"

	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
)

// DefaultMaxPasswordBytes caps password input size when Params leaves
// MaxPasswordBytes at zero.
const DefaultMaxPasswordBytes = 1024

// ErrPasswordTooLong is returned when the input exceeds MaxPasswordBytes.
var ErrPasswordTooLong = errors.New("password exceeds maximum length")

// Params are the Argon2id cost parameters. Raising any of them later is
// safe: existing hashes keep their own parameters inside the PHC string.
type Params struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	// MaxPasswordBytes bounds input size before key derivation.
	// Zero means DefaultMaxPasswordBytes.
	MaxPasswordBytes int
}

// DefaultParams returns the production baseline: 64 MB, 3 passes, 2 lanes.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher hashes and verifies passwords with a fixed parameter set.
// It is safe for concurrent use.
type Hasher struct {
	params Params

	// dummy is a real hash of an unguessable value, computed once at
	// construction. Login flows verify against it when the username does
	// not resolve so that a miss costs the same as a wrong password.
	dummy string
}

// NewHasher validates params and precomputes the decoy hash.
func NewHasher(p Params) (*Hasher, error) {
	if err := validateParams(p); err != nil {
		return nil, err
	}
	if p.MaxPasswordBytes == 0 {
		p.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	h := &Hasher{params: p}

	decoy := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, decoy); err != nil {
		return nil, err
	}
	dummy, err := h.Hash(base64.StdEncoding.EncodeToString(decoy))
	if err != nil {
		return nil, err
	}
	h.dummy = dummy
	return h, nil
}

// Hash derives an Argon2id hash with a fresh random salt and returns it in
// PHC format. Policy checks happen before this point; Hash takes the raw
// password bytes exactly as provided.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) > h.params.MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the hash with the parameters embedded in encoded and
// compares in constant time.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	if len(password) > h.params.MaxPasswordBytes {
		return false, ErrPasswordTooLong
	}

	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	key := argon2.IDKey([]byte(password), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, parsed.keyLength)
	return subtle.ConstantTimeCompare(key, parsed.hash) == 1, nil
}

// VerifyDummy burns a full verification against the decoy hash and always
// reports a mismatch. Called on unknown usernames to keep login timing flat.
func (h *Hasher) VerifyDummy(password string) {
	_, _ = h.Verify(password, h.dummy)
}

// NeedsUpgrade reports whether encoded was produced with weaker parameters
// than the hasher currently uses.
func (h *Hasher) NeedsUpgrade(encoded string) (bool, error) {
	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	switch {
	case h.params.Memory > parsed.memory:
		return true, nil
	case h.params.Time > parsed.time:
		return true, nil
	case h.params.Parallelism > parsed.parallelism:
		return true, nil
	case h.params.KeyLength != parsed.keyLength:
		return true, nil
	}
	return false, nil
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
	keyLength   uint32
}

func parsePHC(encoded string) (*parsedPHC, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != algorithmID {
		return nil, errors.New("unsupported algorithm")
	}

	if !strings.HasPrefix(parts[2], "v=") {
		return nil, errors.New("missing argon2 version")
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	params, err := parseCostParams(parts[3])
	if err != nil {
		return nil, err
	}

	salt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, errors.New("invalid salt encoding")
	}
	if len(salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt length")
	}

	hash, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, errors.New("invalid hash encoding")
	}
	if len(hash) == 0 {
		return nil, errors.New("invalid hash length")
	}

	return &parsedPHC{
		memory:      params.memory,
		time:        params.time,
		parallelism: params.parallelism,
		salt:        salt,
		hash:        hash,
		keyLength:   uint32(len(hash)),
	}, nil
}

type costParams struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

func parseCostParams(part string) (*costParams, error) {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return nil, errors.New("invalid parameter format")
	}

	var (
		haveM, haveT, haveP bool
		out                 costParams
	)
	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, errors.New("invalid parameter entry")
		}
		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return nil, errors.New("invalid memory parameter")
			}
			out.memory = uint32(v)
			haveM = true
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return nil, errors.New("invalid time parameter")
			}
			out.time = uint32(v)
			haveT = true
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return nil, errors.New("invalid parallelism parameter")
			}
			out.parallelism = uint8(v)
			haveP = true
		default:
			return nil, errors.New("unsupported parameter")
		}
	}
	if !haveM || !haveT || !haveP {
		return nil, errors.New("missing parameters")
	}
	return &out, nil
}

func validateParams(p Params) error {
	if p.Memory < minMemoryKB {
		return errors.New("password memory must be >= 8192 KB")
	}
	if p.Time < minTimeCost {
		return errors.New("password time must be >= 1")
	}
	if p.Parallelism < minParallelism {
		return errors.New("password parallelism must be >= 1")
	}
	if p.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if p.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}
	return nil
}
