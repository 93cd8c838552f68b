package ml

import (
	"hash/fnv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"gonum.org/v1/gonum/floats"

	"github.com/lodestone-io/lodestone/pkg/models"
)

// Featurizer turns item metadata into fixed-dimension content vectors using
// signed feature hashing. The mapping is fully deterministic: the same item
// metadata always produces the same vector, so retraining on an unchanged
// corpus is a no-op for the vector table.
type Featurizer struct {
	dimensions int
}

func NewFeaturizer(dimensions int) *Featurizer {
	if dimensions <= 0 {
		dimensions = 64
	}
	return &Featurizer{dimensions: dimensions}
}

func (f *Featurizer) Dimensions() int {
	return f.dimensions
}

// Vector computes the content vector for an item. Categories and tags are
// weighted above title tokens because they carry curated signal, and the
// result is L2-normalized so cosine similarity reduces to a dot product.
func (f *Featurizer) Vector(item *models.ContentItem) []float64 {
	vec := make([]float64, f.dimensions)

	for _, token := range tokenize(item.Title) {
		f.accumulate(vec, "title:"+token, 1.0)
	}
	for _, category := range item.Categories {
		f.accumulate(vec, "category:"+normalizeToken(category), 2.0)
	}
	for _, tag := range item.Tags {
		f.accumulate(vec, "tag:"+normalizeToken(tag), 1.5)
	}

	if n := floats.Norm(vec, 2); n > 0 {
		floats.Scale(1/n, vec)
	}
	return vec
}

// accumulate hashes a feature into a bucket with a sign bit, which keeps the
// expected dot product of unrelated items near zero.
func (f *Featurizer) accumulate(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()

	bucket := int(sum % uint64(f.dimensions))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[bucket] += weight
}

func tokenize(text string) []string {
	normalized := norm.NFKC.String(strings.ToLower(text))
	return strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func normalizeToken(token string) string {
	return norm.NFKC.String(strings.ToLower(strings.TrimSpace(token)))
}
