// Package retry holds per-step-class retry policies and the exponential
// backoff calculator used when scheduling step re-attempts.
package retry

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy controls how many times a step is re-attempted and how the delay
// between attempts grows.
type Policy struct {
	MaxRetries  int     `json:"maxRetries"`
	BaseDelayMs int64   `json:"baseDelayMs"`
	Factor      float64 `json:"factor"`
	MaxDelayMs  int64   `json:"maxDelayMs"`
	JitterRatio float64 `json:"jitterRatio"`
}

// Defaults shared by every step class unless overridden.
const (
	DefaultBaseDelayMs = 2000
	DefaultFactor      = 2
	DefaultMaxDelayMs  = 120000
	DefaultJitterRatio = 0.25
)

// Step classes with distinct retry budgets.
const (
	ClassMessaging      = "messaging"
	ClassPaymentRequest = "payment_request"
	ClassHTTPCall       = "http_call"
	ClassWebhook        = "webhook"
	ClassDBWrite        = "db_write"
	ClassValidation     = "validation"
	ClassConfig         = "config"
)

var classRetries = map[string]int{
	ClassMessaging:      5,
	ClassPaymentRequest: 6,
	ClassHTTPCall:       5,
	ClassWebhook:        5,
	ClassDBWrite:        3,
	ClassValidation:     0,
	ClassConfig:         0,
}

// Retry budget for step types outside every known class.
const defaultMaxRetries = 3

// Maps concrete step types onto retry classes.
var stepTypeClass = map[string]string{
	"send_message":    ClassMessaging,
	"send_sms":        ClassMessaging,
	"send_whatsapp":   ClassMessaging,
	"payment_request": ClassPaymentRequest,
	"payment_confirm": ClassPaymentRequest,
	"http_call":       ClassHTTPCall,
	"ai_process":      ClassHTTPCall,
	"webhook_out":     ClassWebhook,
	"update_record":   ClassDBWrite,
	"create_record":   ClassDBWrite,
	"validation":      ClassValidation,
	"config":          ClassConfig,
}

// ForClass returns the default policy for a retry class.
func ForClass(class string) Policy {
	retries, ok := classRetries[class]
	if !ok {
		retries = defaultMaxRetries
	}
	return Policy{
		MaxRetries:  retries,
		BaseDelayMs: DefaultBaseDelayMs,
		Factor:      DefaultFactor,
		MaxDelayMs:  DefaultMaxDelayMs,
		JitterRatio: DefaultJitterRatio,
	}
}

// ForStepType resolves the policy for a concrete step type.
func ForStepType(stepType string) Policy {
	return ForClass(stepTypeClass[stepType])
}

// Merge applies a partial JSON override on top of the policy. Absent fields
// keep their defaults; negative values are rejected.
func (p Policy) Merge(override json.RawMessage) (Policy, error) {
	if len(override) == 0 {
		return p, nil
	}
	var o struct {
		MaxRetries  *int     `json:"maxRetries"`
		BaseDelayMs *int64   `json:"baseDelayMs"`
		Factor      *float64 `json:"factor"`
		MaxDelayMs  *int64   `json:"maxDelayMs"`
		JitterRatio *float64 `json:"jitterRatio"`
	}
	if err := json.Unmarshal(override, &o); err != nil {
		return p, fmt.Errorf("invalid retry policy override: %w", err)
	}
	if o.MaxRetries != nil {
		if *o.MaxRetries < 0 {
			return p, fmt.Errorf("invalid retry policy override: maxRetries %d", *o.MaxRetries)
		}
		p.MaxRetries = *o.MaxRetries
	}
	if o.BaseDelayMs != nil {
		if *o.BaseDelayMs < 0 {
			return p, fmt.Errorf("invalid retry policy override: baseDelayMs %d", *o.BaseDelayMs)
		}
		p.BaseDelayMs = *o.BaseDelayMs
	}
	if o.Factor != nil {
		if *o.Factor < 1 {
			return p, fmt.Errorf("invalid retry policy override: factor %v", *o.Factor)
		}
		p.Factor = *o.Factor
	}
	if o.MaxDelayMs != nil {
		if *o.MaxDelayMs < 0 {
			return p, fmt.Errorf("invalid retry policy override: maxDelayMs %d", *o.MaxDelayMs)
		}
		p.MaxDelayMs = *o.MaxDelayMs
	}
	if o.JitterRatio != nil {
		if *o.JitterRatio < 0 || *o.JitterRatio > 1 {
			return p, fmt.Errorf("invalid retry policy override: jitterRatio %v", *o.JitterRatio)
		}
		p.JitterRatio = *o.JitterRatio
	}
	return p, nil
}

// baseDelayMs computes min(maxDelayMs, baseDelayMs * factor^(attempt-1))
// before jitter. Attempt numbering starts at 1.
func (p Policy) baseDelayMs(attempt int) int64 {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelayMs) * math.Pow(p.Factor, float64(attempt-1))
	if d > float64(p.MaxDelayMs) {
		return p.MaxDelayMs
	}
	return int64(d)
}

// DelayFor returns the jittered delay before the given attempt. rnd must
// return a value in [0, 1); it is a parameter so tests can pin the jitter.
func (p Policy) DelayFor(attempt int, rnd func() float64) time.Duration {
	d := float64(p.baseDelayMs(attempt))
	low := d * (1 - p.JitterRatio)
	high := d * (1 + p.JitterRatio)
	jittered := low + rnd()*(high-low)
	return time.Duration(jittered) * time.Millisecond
}

// Delay returns the jittered delay before the given attempt using the
// default random source.
func (p Policy) Delay(attempt int) time.Duration {
	return p.DelayFor(attempt, rand.Float64)
}
