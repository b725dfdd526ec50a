package logging

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactJSON_SensitiveFields(t *testing.T) {
	r := NewRedactor()

	in := []byte(`{"password":"hunter2","name":"jane","nested":{"api_key":"abc123"}}`)
	out := r.RedactJSON(in)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))

	assert.Equal(t, RedactedValue, doc["password"])
	assert.Equal(t, "jane", doc["name"])
	nested := doc["nested"].(map[string]any)
	assert.Equal(t, RedactedValue, nested["api_key"])
}

func TestRedactJSON_PhoneMasking(t *testing.T) {
	r := NewRedactor()

	in := []byte(`{"phone":"+254712345678","amount":100}`)
	out := r.RedactJSON(in)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))

	phone := doc["phone"].(string)
	assert.NotEqual(t, "+254712345678", phone)
	assert.Contains(t, phone, "678")
	assert.Contains(t, phone, "*")
	assert.Equal(t, float64(100), doc["amount"])
}

func TestMaskPhone(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		want  string
	}{
		{"international", "+254712345678", "+*********678"},
		{"short", "123", "123"},
		{"with dashes", "071-234-5678", "***-***-*678"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskPhone(tt.phone))
		})
	}
}

func TestRedactString_Patterns(t *testing.T) {
	r := NewRedactor()

	out := r.RedactString("authorization: Bearer eyJabc.eyJdef.sig password=topsecret")
	assert.NotContains(t, out, "topsecret")
	assert.Contains(t, out, RedactedValue)
}

func TestRedactJSON_InvalidJSON(t *testing.T) {
	r := NewRedactor()

	out := r.RedactJSON([]byte(`password=hunter2 not json`))
	assert.NotContains(t, string(out), "hunter2")
}

func TestIsSensitiveField(t *testing.T) {
	r := NewRedactor()
	assert.True(t, r.IsSensitiveField("Password"))
	assert.False(t, r.IsSensitiveField("amount"))

	r.AddSensitiveField("internal_ref")
	assert.True(t, r.IsSensitiveField("INTERNAL_REF"))
}
