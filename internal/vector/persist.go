package vector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// Snapshot format shared by all index types: dimension (4), n (4), then per vector:
// idLen (4), id bytes, vector (dimension*4 bytes). All integers little-endian.

func writeSnapshot(path string, dims int, ids []string, vectors [][]float32) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, [2]uint32{uint32(dims), uint32(len(ids))}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, id := range ids {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(id))); err != nil {
			return fmt.Errorf("write id len: %w", err)
		}
		if _, err := w.WriteString(id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush index file: %w", err)
	}
	return f.Close()
}

// readSnapshot reads a snapshot written by writeSnapshot. A missing file returns ok=false.
func readSnapshot(path string, dims int) (ids []string, vectors [][]float32, ok bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, false, nil
		}
		return nil, nil, false, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var header [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, nil, false, fmt.Errorf("read header: %w", err)
	}
	if int(header[0]) != dims {
		return nil, nil, false, fmt.Errorf("dimension mismatch: file has %d, index expects %d", header[0], dims)
	}
	n := header[1]
	ids = make([]string, 0, n)
	vectors = make([][]float32, 0, n)
	buf := make([]byte, dims*4)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return nil, nil, false, fmt.Errorf("read id len: %w", err)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return nil, nil, false, fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, nil, false, fmt.Errorf("read vector: %w", err)
		}
		ids = append(ids, string(idBytes))
		vectors = append(vectors, bytesToFloat32Slice(buf))
	}
	return ids, vectors, true, nil
}

func float32SliceToBytes(s []float32) []byte {
	out := make([]byte, len(s)*4)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func checkDims(vectors [][]float32, dims int) error {
	for _, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(v), dims)
		}
	}
	return nil
}
