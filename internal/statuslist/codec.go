// Package statuslist encodes and decodes per-tenant revocation bitstrings and
// builds the signable list-credential document that carries them.
//
// The package is pure: no I/O, no context.Context, and no time.Now() calls.
// Timestamps are injected by callers so encoding stays deterministic.
package statuslist

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"sort"

	dErrors "emblem/pkg/domain-errors"
)

// MinimumSize is the default minimum bit length of an encoded list. Publishing
// a list for a tenant with no assertions still yields a list of this size.
const MinimumSize = 16384

// Entry pairs a status list index with its revocation bit.
type Entry struct {
	Index   int
	Revoked bool
}

// Build packs entries into an uncompressed bitstring. Index 0 maps to the
// most significant bit of the first byte. Gaps between indices default to
// bit 0 (not revoked). The verification engine uses this directly to derive
// the bit for one index without paying for compression.
func Build(entries []Entry, minSize int) (Bitstring, error) {
	if minSize <= 0 {
		minSize = MinimumSize
	}

	size := minSize
	for _, e := range entries {
		if e.Index < 0 {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("status list index must be non-negative, got %d", e.Index))
		}
		if e.Index+1 > size {
			size = e.Index + 1
		}
	}

	// Normalize by index so duplicate inputs in any order yield one layout.
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	raw := make(Bitstring, (size+7)/8)
	for _, e := range sorted {
		if e.Revoked {
			raw[e.Index/8] |= 1 << (7 - uint(e.Index%8))
		} else {
			raw[e.Index/8] &^= 1 << (7 - uint(e.Index%8))
		}
	}
	return raw, nil
}

// EncodeBitstring packs entries into a gzip-compressed, base64url-encoded
// bitstring.
//
// Encoding is idempotent: the same entry set produces byte-identical output
// regardless of entry order. The gzip header is zeroed to keep the compressed
// frame stable.
func EncodeBitstring(entries []Entry, minSize int) (string, error) {
	raw, err := Build(entries, minSize)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	// ModTime stays zero so repeated encodings are byte-identical.
	if _, err := zw.Write(raw); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "compress status list")
	}
	if err := zw.Close(); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "compress status list")
	}

	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Bitstring is a decoded revocation list.
type Bitstring []byte

// DecodeBitstring reverses EncodeBitstring.
func DecodeBitstring(encoded string) (Bitstring, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "status list is not valid base64url")
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "status list is not gzip-compressed")
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "decompress status list")
	}
	return Bitstring(raw), nil
}

// Revoked reports the bit at index. Out-of-range indices read as not revoked,
// matching the encoder's gap semantics.
func (b Bitstring) Revoked(index int) bool {
	if index < 0 || index/8 >= len(b) {
		return false
	}
	return b[index/8]&(1<<(7-uint(index%8))) != 0
}

// Len returns the bit length of the list.
func (b Bitstring) Len() int {
	return len(b) * 8
}
