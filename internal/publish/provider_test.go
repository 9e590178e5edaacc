package publish

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copydesk/internal/types"
)

func TestScriptIsMonotonic(t *testing.T) {
	require.NotEmpty(t, script)

	last := 0
	for i, st := range script {
		assert.Greater(t, st.percent, last, "step %s must advance the bar", st.name)
		last = st.percent
		assert.Equal(t, i, stepIndex(st.name))
		assert.False(t, types.IsTerminalTask(st.status), "step %s maps to a live status", st.name)
	}

	assert.Equal(t, StepInitialize, script[0].name)
	assert.Equal(t, StepConfirm, script[len(script)-1].name)
	assert.Equal(t, 100, script[len(script)-1].percent)
}

func TestStepIndexUnknown(t *testing.T) {
	assert.Equal(t, -1, stepIndex("no_such_step"))
}

func TestStepErrorAfterLogin(t *testing.T) {
	cause := errors.New("selector missing")

	atLogin := &StepError{Step: StepLogin, Err: cause}
	assert.False(t, atLogin.AfterLogin())

	before := &StepError{Step: StepInitialize, Err: cause}
	assert.False(t, before.AfterLogin())

	after := &StepError{Step: StepBody, Err: cause}
	assert.True(t, after.AfterLogin())
	assert.ErrorIs(t, after, cause)
	assert.Contains(t, after.Error(), StepBody)
}

func TestFailedStep(t *testing.T) {
	wrapped := fmt.Errorf("attempt: %w", &StepError{Step: StepSEO, Err: errors.New("x")})
	assert.Equal(t, stepIndex(StepSEO), failedStep(wrapped))
	assert.Equal(t, -1, failedStep(errors.New("plain")))
	assert.Equal(t, -1, failedStep(nil))
}
