package speaker

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// Embedding is a speaker voiceprint vector. Dimensionality is fixed by the
// extraction backend; the registry never inspects individual components
// beyond similarity math.
type Embedding []float32

// Cosine returns the cosine similarity of a and b, 0 when either has zero
// magnitude or the dimensions differ.
func Cosine(a, b Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// encodeEmbedding serializes the vector as little-endian float32s.
func encodeEmbedding(e Embedding) []byte {
	b := make([]byte, 4*len(e))
	for i, v := range e {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

func decodeEmbedding(b []byte) (Embedding, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding file truncated: %d bytes", len(b))
	}
	e := make(Embedding, len(b)/4)
	for i := range e {
		e[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return e, nil
}

func loadEmbedding(path string) (Embedding, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeEmbedding(b)
}
