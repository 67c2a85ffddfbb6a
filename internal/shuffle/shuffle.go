// Package shuffle produces per-question display orders for choice options.
package shuffle

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"

	"github.com/studytrack/backend/internal/models"
)

// Entropy is the random source used for permutations. *rand.Rand satisfies it.
type Entropy interface {
	Intn(n int) int
}

const displayAlphabet = "ABCDEF"

// Shuffle returns a uniformly random display order of options with display
// keys assigned from A..F. The input slice is not modified.
func Shuffle(options []models.Option, rng Entropy) (models.ShuffleMapping, error) {
	if len(options) > len(displayAlphabet) {
		return models.ShuffleMapping{}, fmt.Errorf("shuffle: %d options exceeds display alphabet of %d", len(options), len(displayAlphabet))
	}

	perm := make([]models.Option, len(options))
	copy(perm, options)
	Permute(len(perm), rng, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

	entries := make([]models.ShuffleEntry, len(perm))
	for i, opt := range perm {
		entries[i] = models.ShuffleEntry{
			OriginalKey: opt.Key,
			DisplayKey:  string(displayAlphabet[i]),
			OptionText:  opt.Text,
		}
	}
	return models.ShuffleMapping{Entries: entries}, nil
}

// Permute applies a Fisher–Yates shuffle of n elements through swap.
func Permute(n int, rng Entropy, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		swap(i, j)
	}
}

// Sample picks k distinct indexes out of [0, n) uniformly at random, in
// random order. k is clamped to n.
func Sample(n, k int, rng Entropy) []int {
	if k > n {
		k = n
	}
	if k < 0 {
		k = 0
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	// partial Fisher–Yates: the first k slots end up as the draw
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[:k]
}

// Mappings shuffles the options of every choice leaf of q, keyed by leaf id.
func Mappings(q models.Question, rng Entropy) (map[string]models.ShuffleMapping, error) {
	out := make(map[string]models.ShuffleMapping)
	for _, leaf := range q.Leaves() {
		if !leaf.Kind.IsChoice() {
			continue
		}
		m, err := Shuffle(leaf.Options, rng)
		if err != nil {
			return nil, fmt.Errorf("question %s: %w", leaf.ID, err)
		}
		out[leaf.ID] = m
	}
	return out, nil
}

// ── Random Sources ────────────────────────────────────

// NewSeed returns a seed read from the OS entropy pool.
func NewSeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("shuffle: read entropy: %v", err))
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}

// ForQuestion returns the source that reproduces a question's option order
// within one exam. The same (seed, questionID) always yields the same order.
func ForQuestion(seed int64, questionID string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(questionID))
	return rand.New(rand.NewSource(seed ^ int64(h.Sum64())))
}

// Locked is a goroutine-safe Entropy shared by services.
type Locked struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewLocked(seed int64) *Locked {
	return &Locked{rng: rand.New(rand.NewSource(seed))}
}

func (l *Locked) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Intn(n)
}

func (l *Locked) Int63() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Int63()
}
