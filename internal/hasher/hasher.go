// Package hasher computes deterministic content hashes over JSON-serializable
// contributors and renders the manifest that produced them.
package hasher

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Version is mixed into every digest; bump it to invalidate existing caches.
const Version = "2"

// Hasher accumulates contributors. The zero value is not usable; call New.
type Hasher struct {
	label  string
	chunks [][]byte
}

// New returns a hasher with a diagnostic label that is not part of the digest.
func New(label string) *Hasher {
	return &Hasher{label: label}
}

// Label returns the diagnostic label.
func (h *Hasher) Label() string { return h.label }

// Add serializes c to canonical JSON and records it. encoding/json sorts map
// keys, so callers only need to pre-sort slices whose order is not meaningful.
func (h *Hasher) Add(c any) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("hash %s: serialize %T: %w", h.label, c, err)
	}
	h.chunks = append(h.chunks, data)
	return nil
}

// Len returns the number of contributors.
func (h *Hasher) Len() int { return len(h.chunks) }

func (h *Hasher) sorted() [][]byte {
	out := make([][]byte, len(h.chunks))
	copy(out, h.chunks)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out
}

// Generate returns the hex SHA-256 over the version tag and the sorted
// contributor encodings. It never fails on empty input.
func (h *Hasher) Generate() string {
	d := sha256.New()
	d.Write([]byte(Version))
	for _, c := range h.sorted() {
		d.Write([]byte{'\n'})
		d.Write(c)
	}
	return hex.EncodeToString(d.Sum(nil))
}

// Manifest renders the contributors, in digest order, as an indented JSON array.
func (h *Hasher) Manifest() ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(h.chunks))
	for _, c := range h.sorted() {
		raw = append(raw, json.RawMessage(c))
	}
	return json.MarshalIndent(raw, "", "  ")
}
