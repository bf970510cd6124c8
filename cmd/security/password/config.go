package password

import (
	"fmt"
	"runtime"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds accepted password length. Characters are counted as runes.
type Policy struct {
	MinLength int
	MaxLength int
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns a baseline tuned for interactive logins
// (~100ms on commodity hardware).
func DefaultConfig() Config {
	// Clamp parallelism to [1..4] so cost stays predictable in containers.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024, // 64 MiB
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 8,
			MaxLength: 256,
		},
	}
}

// WithPolicy returns a copy of c with the given length bounds.
func (c Config) WithPolicy(minLen, maxLen int) (Config, error) {
	if minLen < 1 || maxLen < minLen {
		return Config{}, fmt.Errorf("password policy invalid: min=%d max=%d", minLen, maxLen)
	}
	c.Policy = Policy{MinLength: minLen, MaxLength: maxLen}
	return c, nil
}
