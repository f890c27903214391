package handler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConstantRetry(t *testing.T) {
	policy := ConstantRetry(3, 5*time.Minute)

	delay, ok := policy.NextDelay(1)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Minute, delay)

	delay, ok = policy.NextDelay(2)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Minute, delay)

	// Third failure spends the budget
	_, ok = policy.NextDelay(3)
	assert.False(t, ok)
}

func TestExponentialRetryGrows(t *testing.T) {
	policy := ExponentialRetry(5, time.Second)

	first, ok := policy.NextDelay(1)
	assert.True(t, ok)

	second, ok := policy.NextDelay(2)
	assert.True(t, ok)
	assert.Greater(t, second, first)

	_, ok = policy.NextDelay(5)
	assert.False(t, ok)
}

func TestNoRetry(t *testing.T) {
	policy := NoRetry()

	_, ok := policy.NextDelay(1)
	assert.False(t, ok)
}
