package feed

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/V4T54L/killwatch/internal/adapter/metrics"
	"github.com/V4T54L/killwatch/internal/domain"
)

// ErrUnknownProvider is returned for a provider name with no registered wire schema.
var ErrUnknownProvider = errors.New("unknown feed provider")

// decodeFunc turns one provider payload into a canonical event. It returns an error when
// the payload is not valid for the provider schema at all, and ok=false when it decoded
// but a required field (kill id, time, system) is missing.
type decodeFunc func(payload []byte) (event domain.CanonicalKillEvent, ok bool, err error)

type providerSchema struct {
	decode    decodeFunc
	subscribe []byte
}

var schemas = map[domain.Provider]providerSchema{
	domain.ProviderZKillboard: {decode: decodeZKillboard, subscribe: []byte(`{"action":"sub","channel":"killstream"}`)},
	domain.ProviderEveKill:    {decode: decodeEveKill, subscribe: []byte(`{"type":"subscribe","topic":"all"}`)},
}

// SubscribeMessage returns the control message that starts the kill stream for provider.
func SubscribeMessage(provider domain.Provider) ([]byte, error) {
	s, ok := schemas[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return s.subscribe, nil
}

// Normalizer converts one provider's raw messages into canonical kill events.
type Normalizer struct {
	provider domain.Provider
	decode   decodeFunc
	logger   *slog.Logger
	metrics  *metrics.PipelineMetrics
}

// NewNormalizer creates the normalizer for provider. m may be nil.
func NewNormalizer(provider domain.Provider, logger *slog.Logger, m *metrics.PipelineMetrics) (*Normalizer, error) {
	s, ok := schemas[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return &Normalizer{
		provider: provider,
		decode:   s.decode,
		logger:   logger.With("component", "normalizer", "provider", provider),
		metrics:  m,
	}, nil
}

// Provider returns the provider this normalizer understands.
func (n *Normalizer) Provider() domain.Provider {
	return n.provider
}

// Normalize returns the canonical event for msg, or false when the message is malformed
// or incomplete. It never returns a partially filled event.
func (n *Normalizer) Normalize(msg domain.RawFeedMessage) (domain.CanonicalKillEvent, bool) {
	event, ok, err := n.decode(msg.Payload)
	if err != nil {
		n.logger.Warn("failed to decode feed message, dropping", "error", err, "bytes", len(msg.Payload))
		n.count("malformed")
		return domain.CanonicalKillEvent{}, false
	}
	if !ok {
		n.logger.Debug("feed message lacks kill id, time or system, dropping")
		n.count("incomplete")
		return domain.CanonicalKillEvent{}, false
	}
	event.Provider = n.provider
	n.count("accepted")
	return event, true
}

// Forward returns a message handler that normalizes each message and passes complete
// events to submit.
func (n *Normalizer) Forward(submit func(domain.CanonicalKillEvent)) func(domain.RawFeedMessage) {
	return func(msg domain.RawFeedMessage) {
		if event, ok := n.Normalize(msg); ok {
			submit(event)
		}
	}
}

func (n *Normalizer) count(status string) {
	if n.metrics != nil {
		n.metrics.NormalizedTotal.WithLabelValues(string(n.provider), status).Inc()
	}
}
