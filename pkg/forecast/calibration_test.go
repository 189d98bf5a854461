package forecast

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerificationAccuracy(t *testing.T) {
	assert.InDelta(t, 0.8, VerificationAccuracy(10, 8), 1e-9)
	assert.InDelta(t, 0.8, VerificationAccuracy(10, 12), 1e-9)
	assert.Equal(t, 0.0, VerificationAccuracy(10, 30))
	assert.Equal(t, 1.0, VerificationAccuracy(0.05, 0.02))
	assert.Equal(t, 0.0, VerificationAccuracy(0, 5))
	assert.Equal(t, 0.0, VerificationAccuracy(0.05, 5))
}

func TestLearnCorrectionFactor(t *testing.T) {
	t.Run("Ratio Of Actual To Predicted", func(t *testing.T) {
		cf, ok := LearnCorrectionFactor(1.0, 10, 8)
		assert.True(t, ok)
		assert.InDelta(t, 0.8, cf, 1e-9)
	})

	t.Run("Clamped", func(t *testing.T) {
		cf, ok := LearnCorrectionFactor(1.0, 10, 30)
		assert.True(t, ok)
		assert.Equal(t, 1.5, cf)
		cf, ok = LearnCorrectionFactor(1.0, 10, 1)
		assert.True(t, ok)
		assert.Equal(t, 0.5, cf)
	})

	t.Run("Small Change Is Not Saved", func(t *testing.T) {
		cf, ok := LearnCorrectionFactor(1.0, 10, 10.05)
		assert.False(t, ok)
		assert.Equal(t, 1.0, cf)
	})

	t.Run("Negligible Prediction", func(t *testing.T) {
		_, ok := LearnCorrectionFactor(1.0, 0.05, 3)
		assert.False(t, ok)
		_, ok = LearnCorrectionFactor(1.0, 10, math.NaN())
		assert.False(t, ok)
	})
}
