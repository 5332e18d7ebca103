package retry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClass_Valid(t *testing.T) {
	assert.True(t, Validation.Valid())
	assert.True(t, Runtime.Valid())
	assert.True(t, Transient.Valid())
	assert.True(t, Permanent.Valid())
	assert.False(t, ErrorClass("bogus").Valid())
}

func TestClassify_StepError(t *testing.T) {
	err := NewStepError(Transient, "connection reset", nil)
	assert.Equal(t, Transient, Classify(err))
}

func TestClassify_UnclassifiedDefaultsToRuntime(t *testing.T) {
	assert.Equal(t, Runtime, Classify(errors.New("boom")))
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2}

	cases := []struct {
		name       string
		retryCount uint32
		class      ErrorClass
		want       bool
	}{
		{"transient under budget", 0, Transient, true},
		{"runtime under budget", 1, Runtime, true},
		{"at budget", 2, Transient, false},
		{"validation never retried", 0, Validation, false},
		{"permanent never retried", 0, Permanent, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, p.ShouldRetry(tc.retryCount, tc.class))
		})
	}
}

func TestRetryPolicy_DelayExponential(t *testing.T) {
	p := RetryPolicy{BaseDelayMs: 20, Backoff: ExponentialBackoff}
	assert.Equal(t, int64(20), p.Delay(0).Milliseconds())
	assert.Equal(t, int64(40), p.Delay(1).Milliseconds())
	assert.Equal(t, int64(80), p.Delay(2).Milliseconds())
}

func TestRetryPolicy_DelayNone(t *testing.T) {
	p := RetryPolicy{BaseDelayMs: 20}
	assert.Equal(t, int64(0), p.Delay(5).Milliseconds())
}
