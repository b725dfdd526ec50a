package webhooks

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokoflow/sokoflow/internal/database/repository"
	dbtesting "github.com/sokoflow/sokoflow/internal/database/testing"
	"github.com/sokoflow/sokoflow/pkg/logging"
	"github.com/sokoflow/sokoflow/pkg/metrics"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := dbtesting.SetupTestDB(t)
	logger := logging.NewWithWriter(logging.DefaultConfig(), io.Discard)
	reg := metrics.NewRegistry(metrics.DefaultConfig())
	return NewService(repository.NewWebhookDedupRepository(db), logger, reg)
}

const whatsappPayload = `{
	"entry": [{
		"changes": [{
			"value": {
				"messages": [{"id": "wamid.abc123", "from": "254700000001"}]
			}
		}]
	}]
}`

func TestDedupKey_ProviderExtraction(t *testing.T) {
	key, err := DedupKey(ProviderWhatsApp, []byte(whatsappPayload), "", "")
	require.NoError(t, err)
	assert.Equal(t, "wamid.abc123", key)

	key, err = DedupKey(ProviderMomo, []byte(`{"transactionId":"tx-9","amount":100}`), "", "")
	require.NoError(t, err)
	assert.Equal(t, "tx-9", key)

	key, err = DedupKey(ProviderMomo, []byte(`{"referenceId":"ref-4"}`), "", "")
	require.NoError(t, err)
	assert.Equal(t, "ref-4", key)

	key, err = DedupKey(ProviderCustom, []byte(`{"eventId":"evt-1"}`), "", "")
	require.NoError(t, err)
	assert.Equal(t, "evt-1", key)

	_, err = DedupKey("smoke-signals", []byte(`{}`), "", "")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestDedupKey_FallbackDigest(t *testing.T) {
	a, err := DedupKey(ProviderCustom, []byte(`{"data":1}`), "sig-1", "1700000000")
	require.NoError(t, err)
	b, err := DedupKey(ProviderCustom, []byte(`{"data":1}`), "sig-1", "1700000000")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := DedupKey(ProviderCustom, []byte(`{"data":1}`), "sig-2", "1700000000")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestService_DuplicateDeliverySuppressed(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.Accept(ctx, "org-1", ProviderWhatsApp, []byte(whatsappPayload), "", "")
	require.NoError(t, err)
	assert.True(t, first)

	// Provider redelivers the same message.
	second, err := svc.Accept(ctx, "org-1", ProviderWhatsApp, []byte(whatsappPayload), "", "")
	require.NoError(t, err)
	assert.False(t, second)

	// The same message delivered to another tenant is independent.
	other, err := svc.Accept(ctx, "org-2", ProviderWhatsApp, []byte(whatsappPayload), "", "")
	require.NoError(t, err)
	assert.True(t, other)
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"eventId":"evt-1"}`)
	sig := SignPayload("secret", payload)

	assert.True(t, VerifySignature("secret", payload, sig))
	assert.False(t, VerifySignature("wrong", payload, sig))
	assert.False(t, VerifySignature("secret", []byte(`{"eventId":"evt-2"}`), sig))
	assert.False(t, VerifySignature("secret", payload, "not-hex"))
}

func TestExtractSignature(t *testing.T) {
	h := http.Header{}
	h.Set(SignatureHeader, "sha256=abc123")
	sig, ok := ExtractSignature(h)
	assert.True(t, ok)
	assert.Equal(t, "abc123", sig)

	h = http.Header{}
	h.Set("X-Hub-Signature-256", "def456")
	sig, ok = ExtractSignature(h)
	assert.True(t, ok)
	assert.Equal(t, "def456", sig)

	_, ok = ExtractSignature(http.Header{})
	assert.False(t, ok)
}
