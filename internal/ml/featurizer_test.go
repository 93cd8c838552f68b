package ml

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lodestone-io/lodestone/pkg/models"
)

func TestFeaturizer_Deterministic(t *testing.T) {
	f := NewFeaturizer(64)

	item := &models.ContentItem{
		Title:      "Deep Sea Exploration",
		Categories: []string{"science", "documentary"},
		Tags:       []string{"ocean", "marine-life"},
	}

	v1 := f.Vector(item)
	v2 := f.Vector(item)

	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 64)
}

func TestFeaturizer_UnitNorm(t *testing.T) {
	f := NewFeaturizer(32)

	item := &models.ContentItem{
		Title:      "Weeknight Pasta Recipes",
		Categories: []string{"cooking"},
	}

	v := f.Vector(item)

	var sum float64
	for _, x := range v {
		sum += x * x
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-9)
}

func TestFeaturizer_EmptyMetadata(t *testing.T) {
	f := NewFeaturizer(16)

	v := f.Vector(&models.ContentItem{})

	assert.Len(t, v, 16)
	for _, x := range v {
		assert.Zero(t, x)
	}
}

func TestFeaturizer_UnicodeNormalization(t *testing.T) {
	f := NewFeaturizer(64)

	// Fullwidth and ASCII forms of the same title should hash identically.
	a := f.Vector(&models.ContentItem{Title: "Ｃａｆｅ Ｇｕｉｄｅ"})
	b := f.Vector(&models.ContentItem{Title: "cafe guide"})

	assert.Equal(t, b, a)
}

func TestFeaturizer_SharedMetadataIncreasesSimilarity(t *testing.T) {
	f := NewFeaturizer(128)

	base := &models.ContentItem{
		Title:      "Trail Running Basics",
		Categories: []string{"fitness"},
		Tags:       []string{"running", "outdoors"},
	}
	related := &models.ContentItem{
		Title:      "Trail Running Nutrition",
		Categories: []string{"fitness"},
		Tags:       []string{"running"},
	}
	unrelated := &models.ContentItem{
		Title:      "Quarterly Tax Filing",
		Categories: []string{"finance"},
		Tags:       []string{"accounting"},
	}

	vb := f.Vector(base)
	vr := f.Vector(related)
	vu := f.Vector(unrelated)

	dot := func(a, b []float64) float64 {
		var s float64
		for i := range a {
			s += a[i] * b[i]
		}
		return s
	}

	assert.Greater(t, dot(vb, vr), dot(vb, vu))
}
