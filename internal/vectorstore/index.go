package vectorstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Binary layout of the index artifact, all fields little-endian:
//
//	uint32 magic ("DQVI")
//	uint32 format version
//	uint32 dimension
//	uint32 vector count
//	count × dimension × float32 vector data
//
// The flat layout makes the file self-describing: the expected byte length
// is derivable from the header, so truncation is detectable on load.
const (
	indexMagic   uint32 = 0x44515649
	indexVersion uint32 = 1
)

// flatIndex is the in-memory form of the index artifact: a fixed-dimension,
// append-only sequence of vectors searched by exact brute force.
type flatIndex struct {
	dimension int
	vectors   [][]float32
}

// newFlatIndex returns an empty index of the given dimension.
func newFlatIndex(dimension int) *flatIndex {
	return &flatIndex{dimension: dimension}
}

// append adds vectors to the index. Every vector must match the index
// dimension; the caller validates widths before calling.
func (ix *flatIndex) append(vectors [][]float32) {
	ix.vectors = append(ix.vectors, vectors...)
}

// count returns the number of stored vectors.
func (ix *flatIndex) count() int { return len(ix.vectors) }

// writeTo serializes the index in the binary layout described above.
func (ix *flatIndex) writeTo(w io.Writer) error {
	hdr := []uint32{indexMagic, indexVersion, uint32(ix.dimension), uint32(len(ix.vectors))}
	for _, v := range hdr {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	buf := make([]byte, 4)
	for _, vec := range ix.vectors {
		for _, f := range vec {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(f))
			if _, err := w.Write(buf); err != nil {
				return fmt.Errorf("write vector data: %w", err)
			}
		}
	}
	return nil
}

// readFlatIndex deserializes an index artifact. Any structural problem —
// bad magic, unknown version, truncated data — is reported as corruption.
func readFlatIndex(r io.Reader) (*flatIndex, error) {
	var magic, version, dim, count uint32
	for _, p := range []*uint32{&magic, &version, &dim, &count} {
		if err := binary.Read(r, binary.LittleEndian, p); err != nil {
			return nil, fmt.Errorf("read header: %w: %w", ErrCorrupted, err)
		}
	}
	if magic != indexMagic {
		return nil, fmt.Errorf("bad magic 0x%08x: %w", magic, ErrCorrupted)
	}
	if version != indexVersion {
		return nil, fmt.Errorf("unsupported index version %d: %w", version, ErrCorrupted)
	}
	if dim == 0 {
		return nil, fmt.Errorf("zero dimension in header: %w", ErrCorrupted)
	}

	ix := &flatIndex{dimension: int(dim)}
	buf := make([]byte, 4)
	for i := uint32(0); i < count; i++ {
		vec := make([]float32, dim)
		for j := uint32(0); j < dim; j++ {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("truncated vector data at %d/%d: %w", i, count, ErrCorrupted)
			}
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf))
		}
		ix.vectors = append(ix.vectors, vec)
	}
	return ix, nil
}

// squaredL2 computes the squared Euclidean distance between two vectors of
// equal length. Lower means more similar; zero means identical.
func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
