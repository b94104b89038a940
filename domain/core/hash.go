package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Domain-specific hash types
type (
	MatrixHash Hash
	SchemaHash Hash
	ConfigHash Hash
)

func (h MatrixHash) String() string { return Hash(h).String() }
func (h SchemaHash) String() string { return Hash(h).String() }
func (h ConfigHash) String() string { return Hash(h).String() }

// ComputeMatrixHash hashes feature ids, sample names and the raw bits of
// every value, so two matrices hash equal only if they are bit-identical.
func ComputeMatrixHash(featureIDs, sampleNames []string, rows [][]float64) MatrixHash {
	h := sha256.New()
	for _, id := range featureIDs {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	for _, name := range sampleNames {
		h.Write([]byte(name))
		h.Write([]byte{0})
	}
	var buf [8]byte
	for _, row := range rows {
		for _, v := range row {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
	}
	return MatrixHash(hex.EncodeToString(h.Sum(nil)))
}

// ComputeConfigHash hashes a flat key/value view of a configuration in
// key order.
func ComputeConfigHash(fields map[string]interface{}) ConfigHash {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var data strings.Builder
	for _, key := range keys {
		data.WriteString(key)
		data.WriteString("=")
		data.WriteString(fmt.Sprintf("%v", fields[key]))
		data.WriteString(";")
	}
	return ConfigHash(NewHash([]byte(data.String())))
}

// HashFloats hashes the raw bits of a float slice. Used to compare
// statistic vectors across runs bit-for-bit.
func HashFloats(values []float64) Hash {
	h := sha256.New()
	var buf [8]byte
	for _, v := range values {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return Hash(hex.EncodeToString(h.Sum(nil)))
}
