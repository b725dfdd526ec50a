package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/sokoflow/sokoflow/internal/database/repository"
	"github.com/sokoflow/sokoflow/pkg/logging"
	"github.com/sokoflow/sokoflow/pkg/metrics"
)

// Supported inbound providers.
const (
	ProviderWhatsApp = "whatsapp"
	ProviderMomo     = "momo"
	ProviderCustom   = "custom"
)

// ErrUnknownProvider is returned for providers outside the supported set.
var ErrUnknownProvider = fmt.Errorf("unknown webhook provider")

// Service deduplicates inbound webhook deliveries per
// (organization, provider, dedupKey).
type Service struct {
	repo    *repository.WebhookDedupRepository
	logger  *logging.Logger
	metrics *metrics.Registry
}

// NewService creates a webhook dedup service.
func NewService(repo *repository.WebhookDedupRepository, logger *logging.Logger, reg *metrics.Registry) *Service {
	return &Service{
		repo:    repo,
		logger:  logger.WithModule("webhooks"),
		metrics: reg,
	}
}

// Accept records a delivery. Returns false for a duplicate: providers
// redeliver on slow acknowledgements, and a redelivered event must create
// nothing downstream.
func (s *Service) Accept(ctx context.Context, orgID, provider string, payload []byte, signature, timestamp string) (bool, error) {
	key, err := DedupKey(provider, payload, signature, timestamp)
	if err != nil {
		return false, err
	}

	inserted, err := s.repo.Insert(ctx, orgID, provider, key)
	if err != nil {
		return false, fmt.Errorf("webhook dedup insert: %w", err)
	}
	if !inserted {
		s.metrics.Governance().RecordDedupHit("webhook")
		s.logger.InfoContext(ctx, "duplicate webhook delivery suppressed",
			"organization_id", orgID, "provider", provider, "dedup_key", key)
	}
	return inserted, nil
}

// DedupKey extracts the provider-specific delivery identity from a payload.
// When the provider's ID field is absent the key falls back to a digest of
// signature, timestamp and payload.
func DedupKey(provider string, payload []byte, signature, timestamp string) (string, error) {
	var key string
	switch provider {
	case ProviderWhatsApp:
		key = whatsappMessageID(payload)
	case ProviderMomo:
		key = MomoTransactionID(payload)
	case ProviderCustom:
		key = firstStringField(payload, "eventId", "id")
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	if key == "" {
		key = fallbackKey(payload, signature, timestamp)
	}
	return key, nil
}

// MomoTransactionID extracts the provider transaction ID from a mobile
// money payload, empty when none of the known ID fields is present.
func MomoTransactionID(payload []byte) string {
	return firstStringField(payload, "transactionId", "referenceId", "externalId")
}

// whatsappMessageID walks entry[0].changes[0].value.messages[0].id.
func whatsappMessageID(payload []byte) string {
	var doc struct {
		Entry []struct {
			Changes []struct {
				Value struct {
					Messages []struct {
						ID string `json:"id"`
					} `json:"messages"`
				} `json:"value"`
			} `json:"changes"`
		} `json:"entry"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return ""
	}
	if len(doc.Entry) == 0 || len(doc.Entry[0].Changes) == 0 {
		return ""
	}
	messages := doc.Entry[0].Changes[0].Value.Messages
	if len(messages) == 0 {
		return ""
	}
	return messages[0].ID
}

func firstStringField(payload []byte, fields ...string) string {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return ""
	}
	for _, f := range fields {
		if v, ok := doc[f].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func fallbackKey(payload []byte, signature, timestamp string) string {
	h := sha256.New()
	h.Write([]byte(signature))
	h.Write([]byte(timestamp))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
