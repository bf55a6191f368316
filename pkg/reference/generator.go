// Package reference issues booking reference codes.
//
// A code packs a 41-bit logical millisecond clock, a 10-bit shard id and a 12-bit
// per-millisecond sequence into 63 bits, encodes them as 13 Crockford base32
// characters and appends a Luhn mod 32 check character. Uniqueness needs no
// storage round trip as long as every running generator owns a distinct shard.
package reference

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	timeBits  = 41
	shardBits = 10
	seqBits   = 12

	MaxShard = 1<<shardBits - 1
	maxSeq   = 1<<seqBits - 1
	maxTime  = 1<<timeBits - 1

	bodyLength = 13
)

// Epoch is the zero of the logical clock
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var (
	ErrInvalidShard   = errors.New("reference shard out of range")
	ErrClockExhausted = errors.New("reference clock exhausted")
	ErrInvalidCode    = errors.New("invalid reference code")
	ErrChecksum       = errors.New("reference checksum mismatch")
)

// Generator is safe for concurrent use
type Generator struct {
	mu     sync.Mutex
	prefix string
	shard  uint64
	now    func() time.Time
	guard  func() error
	lastMs int64
	seq    uint64
}

// Option configures a Generator
type Option func(*Generator)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithShardGuard makes Next fail while guard returns an error, e.g. after a shard lease is lost
func WithShardGuard(guard func() error) Option {
	return func(g *Generator) { g.guard = guard }
}

// NewGenerator creates a generator for one shard
func NewGenerator(prefix string, shard int, opts ...Option) (*Generator, error) {
	if shard < 0 || shard > MaxShard {
		return nil, fmt.Errorf("%w: %d", ErrInvalidShard, shard)
	}
	g := &Generator{
		prefix: strings.ToUpper(prefix),
		shard:  uint64(shard),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Prefix returns the tag codes start with
func (g *Generator) Prefix() string {
	return g.prefix
}

// Next returns a new code. The logical clock never runs backwards: if the wall clock
// steps back or a millisecond's sequence is used up, the logical clock moves ahead instead.
func (g *Generator) Next() (string, error) {
	if g.guard != nil {
		if err := g.guard(); err != nil {
			return "", err
		}
	}

	g.mu.Lock()
	ms := g.now().UTC().Sub(Epoch).Milliseconds()
	if ms < g.lastMs {
		ms = g.lastMs
	}
	if ms == g.lastMs {
		g.seq++
		if g.seq > maxSeq {
			ms++
			g.seq = 0
		}
	} else {
		g.seq = 0
	}
	if ms < 0 || ms > maxTime {
		g.mu.Unlock()
		return "", ErrClockExhausted
	}
	g.lastMs = ms
	id := uint64(ms)<<(shardBits+seqBits) | g.shard<<seqBits | g.seq
	g.mu.Unlock()

	body := encode(id)
	return g.prefix + body + string(checkChar(body)), nil
}

// Parts is the decoded content of a code
type Parts struct {
	IssuedAt time.Time
	Shard    int
	Sequence int
}

// Validate checks format and checksum of a code carrying prefix
func Validate(code, prefix string) error {
	_, err := Decode(code, prefix)
	return err
}

// Decode validates code and returns what it encodes
func Decode(code, prefix string) (Parts, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	prefix = strings.ToUpper(prefix)
	if !strings.HasPrefix(code, prefix) {
		return Parts{}, fmt.Errorf("%w: missing prefix %q", ErrInvalidCode, prefix)
	}
	rest := code[len(prefix):]
	if len(rest) != bodyLength+1 {
		return Parts{}, fmt.Errorf("%w: expected %d characters after prefix, got %d", ErrInvalidCode, bodyLength+1, len(rest))
	}
	for i := 0; i < len(rest); i++ {
		if strings.IndexByte(alphabet, rest[i]) < 0 {
			return Parts{}, fmt.Errorf("%w: illegal character %q", ErrInvalidCode, rest[i])
		}
	}
	if !luhnValid(rest) {
		return Parts{}, ErrChecksum
	}
	// 13 characters carry 65 bits; the top two must be zero for a 63-bit id
	if strings.IndexByte(alphabet, rest[0]) > 7 {
		return Parts{}, fmt.Errorf("%w: value out of range", ErrInvalidCode)
	}

	id := decode(rest[:bodyLength])
	ms := int64(id >> (shardBits + seqBits))
	return Parts{
		IssuedAt: Epoch.Add(time.Duration(ms) * time.Millisecond),
		Shard:    int(id >> seqBits & MaxShard),
		Sequence: int(id & maxSeq),
	}, nil
}

func encode(id uint64) string {
	var buf [bodyLength]byte
	for i := bodyLength - 1; i >= 0; i-- {
		buf[i] = alphabet[id&31]
		id >>= 5
	}
	return string(buf[:])
}

func decode(body string) uint64 {
	var id uint64
	for i := 0; i < len(body); i++ {
		id = id<<5 | uint64(strings.IndexByte(alphabet, body[i]))
	}
	return id
}

// checkChar computes the Luhn mod 32 check character for body
func checkChar(body string) byte {
	const n = len(alphabet)
	factor, sum := 2, 0
	for i := len(body) - 1; i >= 0; i-- {
		addend := factor * strings.IndexByte(alphabet, body[i])
		factor = 3 - factor
		sum += addend/n + addend%n
	}
	return alphabet[(n-sum%n)%n]
}

func luhnValid(s string) bool {
	const n = len(alphabet)
	factor, sum := 1, 0
	for i := len(s) - 1; i >= 0; i-- {
		addend := factor * strings.IndexByte(alphabet, s[i])
		factor = 3 - factor
		sum += addend/n + addend%n
	}
	return sum%n == 0
}
