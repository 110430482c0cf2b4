package store

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimeDecay(t *testing.T) {
	halfLife := 24.0

	t.Run("zero age weighs 1.0", func(t *testing.T) {
		assert.Equal(t, 1.0, TimeDecay(0, halfLife))
	})

	t.Run("negative age weighs 1.0", func(t *testing.T) {
		assert.Equal(t, 1.0, TimeDecay(-5, halfLife))
	})

	t.Run("one half-life is 0.5 within 1%", func(t *testing.T) {
		assert.InDelta(t, 0.5, TimeDecay(halfLife, halfLife), 0.005)
	})

	t.Run("two half-lives is about 0.25", func(t *testing.T) {
		assert.InDelta(t, 0.25, TimeDecay(2*halfLife, halfLife), 0.005)
	})

	t.Run("non-increasing in age", func(t *testing.T) {
		prev := math.Inf(1)
		for age := 0.0; age <= 240; age += 6 {
			d := TimeDecay(age, halfLife)
			assert.LessOrEqual(t, d, prev, "decay must not increase at age %v", age)
			prev = d
		}
	})
}

func TestCosineSimilarity(t *testing.T) {
	t.Run("identical vectors score 1", func(t *testing.T) {
		v := []float32{0.3, 0.4, 0.5}
		assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
	})

	t.Run("orthogonal vectors score 0", func(t *testing.T) {
		assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	})

	t.Run("mismatched lengths score 0", func(t *testing.T) {
		assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{1}))
	})

	t.Run("zero vector scores 0", func(t *testing.T) {
		assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	})
}
