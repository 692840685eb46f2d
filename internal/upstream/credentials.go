package upstream

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrNoCredentials is returned when the pool is empty.
var ErrNoCredentials = errors.New("no upstream API keys configured")

// CredentialPool hands out upstream API keys round-robin. The cursor is
// process-wide and advances once per incoming request, not per upstream call.
type CredentialPool struct {
	keys   []string
	cursor atomic.Uint64
}

// NewCredentialPool builds a pool from the ordered key list.
func NewCredentialPool(keys []string) *CredentialPool {
	return &CredentialPool{keys: keys}
}

// PoolFromEnv reads KEY1, KEY2, … contiguously from index 1 using the given
// lookup function (normally os.Getenv).
func PoolFromEnv(getenv func(string) string) *CredentialPool {
	var keys []string
	for i := 1; ; i++ {
		key := getenv(fmt.Sprintf("KEY%d", i))
		if key == "" {
			break
		}
		keys = append(keys, key)
	}
	return NewCredentialPool(keys)
}

// Next returns the next key in rotation.
func (p *CredentialPool) Next() (string, error) {
	if len(p.keys) == 0 {
		return "", ErrNoCredentials
	}
	n := p.cursor.Add(1) - 1
	return p.keys[n%uint64(len(p.keys))], nil
}

// Size reports how many keys the pool holds.
func (p *CredentialPool) Size() int {
	return len(p.keys)
}
