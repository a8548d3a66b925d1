// Package logsource defines the narrow interface the route-admission
// core depends on for the consensus log substrate. The substrate's
// implementation — authentication, fee handling, the actual consensus
// algorithm — is out of scope; only these three operations matter to
// the core.
package logsource

import (
	"context"

	"github.com/ethdenver2026/relay/internal/models"
)

// PublishResult is returned by Publish.
type PublishResult struct {
	SequenceNumber uint64
}

// Source abstracts the external consensus log substrate.
type Source interface {
	// TopicExists reports whether topicID is a reachable, valid topic.
	// Must respect a 5s timeout.
	TopicExists(ctx context.Context, topicID string) (bool, error)

	// ListMessages returns messages on topicID with sequence_number >
	// afterSeq (or from the beginning if afterSeq is nil), ascending,
	// up to limit entries. A 404 from the underlying transport means
	// "no messages" and must be translated to an empty, non-error
	// result by the implementation.
	ListMessages(ctx context.Context, topicID string, afterSeq *uint64, limit int) ([]models.LogMessage, error)

	// Publish submits bytes as a new message on topicID and returns its
	// assigned sequence number. Must respect a 10s timeout.
	Publish(ctx context.Context, topicID string, bytes []byte) (*PublishResult, error)

	// CreateTopic provisions a brand-new topic and returns its id.
	CreateTopic(ctx context.Context) (string, error)
}
