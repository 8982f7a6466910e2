package storage

import (
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"
)

// Entry is one cached embedding row.
type Entry struct {
	Hash           string `db:"hash" json:"hash"`
	Embedding      Vector `db:"embedding" json:"embedding"`
	CreatedAt      int64  `db:"created_at" json:"created_at"`
	LastAccessedAt int64  `db:"last_accessed_at" json:"last_accessed_at"`
}

// Vector is a float32 embedding stored as a little-endian IEEE-754 BLOB with no length
// prefix. An empty vector is a zero-length BLOB, not NULL.
type Vector []float32

// Value implements driver.Valuer.
func (v Vector) Value() (driver.Value, error) {
	return EncodeVector(v), nil
}

// Scan implements sql.Scanner.
func (v *Vector) Scan(src any) error {
	switch b := src.(type) {
	case nil:
		*v = Vector{}
		return nil
	case []byte:
		dec, err := DecodeVector(b)
		if err != nil {
			return err
		}
		*v = dec
		return nil
	default:
		return fmt.Errorf("storage: cannot scan %T into Vector", src)
	}
}

// EncodeVector returns the BLOB encoding of vec. The result is never nil.
func EncodeVector(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// DecodeVector decodes a BLOB produced by EncodeVector.
func DecodeVector(b []byte) (Vector, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("storage: invalid embedding blob length %d (not multiple of 4)", len(b))
	}
	vec := make(Vector, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}
