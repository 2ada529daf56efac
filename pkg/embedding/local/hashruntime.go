package local

import "hash/fnv"

var _ Runtime = HashRuntime{}

// HashRuntime is a dependency-free stand-in for the real ONNX
// tokenizer/runtime named as an external collaborator in this package's
// doc comment: it derives a deterministic pseudo-embedding from a hash of
// the input text so Backend has a concrete Runtime to exercise without
// vendoring an actual model. It carries no semantic meaning and is only
// suitable as a last-resort local backend, never for production retrieval
// quality.
type HashRuntime struct {
	Dimensions int
}

// Infer implements Runtime by hashing text once per output dimension. The
// single synthetic token's mask is always true, so Backend's mean-pool is
// a no-op pass-through before L2 normalization.
func (h HashRuntime) Infer(text string) (states [][]float32, mask []bool, err error) {
	vec := make([]float32, h.Dimensions)
	for i := range vec {
		hasher := fnv.New32a()
		hasher.Write([]byte(text))
		hasher.Write([]byte{byte(i), byte(i >> 8)})
		vec[i] = float32(hasher.Sum32()%10000)/10000 - 0.5
	}
	return [][]float32{vec}, []bool{true}, nil
}
