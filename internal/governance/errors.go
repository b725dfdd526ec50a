package governance

import (
	"errors"
	"fmt"
)

// Machine-readable safety limit codes.
const (
	CodePlanLimitReached           = "PLAN_LIMIT_REACHED"
	CodeWorkflowTimeout            = "WORKFLOW_TIMEOUT"
	CodeStepIterationLimitExceeded = "STEP_ITERATION_LIMIT_EXCEEDED"
	CodeMaxStepsExceeded           = "MAX_STEPS_EXCEEDED"
	CodeConcurrentLimitExceeded    = "CONCURRENT_LIMIT_EXCEEDED"
	CodeUnboundedLoopRisk          = "UNBOUNDED_LOOP_RISK"
)

// ViolationError is returned when an operation breaches a safety limit.
type ViolationError struct {
	Code    string
	Message string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("safety limit %s: %s", e.Code, e.Message)
}

// NewViolation creates a ViolationError with a formatted message.
func NewViolation(code, format string, args ...any) *ViolationError {
	return &ViolationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ViolationCode extracts the limit code from err, if it is a violation.
func ViolationCode(err error) (string, bool) {
	var v *ViolationError
	if errors.As(err, &v) {
		return v.Code, true
	}
	return "", false
}
