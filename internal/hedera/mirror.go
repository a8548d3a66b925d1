// Package hedera implements logsource.Source against the Hedera
// mirror-node REST wire schema. Reads (topic existence, message
// listing) go straight to the mirror node over plain HTTP; writes
// (publish, topic creation) require signing and fee payment against
// the consensus service itself, which this package does not implement
// — it delegates to a pluggable Submitter instead.
package hedera

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethdenver2026/relay/internal/logsource"
	"github.com/ethdenver2026/relay/internal/models"
)

const (
	topicProbeTimeout  = 5 * time.Second
	listMessageTimeout = 5 * time.Second
	publishTimeout     = 10 * time.Second
)

// Submitter performs the authenticated consensus-service operations
// (publish a message, create a topic) that the public mirror-node REST
// API cannot: submitting a transaction requires an account id and
// private key, configured out-of-band.
type Submitter interface {
	SubmitMessage(ctx context.Context, topicID string, bytes []byte) (sequenceNumber uint64, err error)
	CreateTopic(ctx context.Context) (topicID string, err error)
}

// NullSubmitter rejects every write. It is the default Submitter so
// that a misconfigured deployment fails fast at TopicBootstrap instead
// of silently doing nothing.
type NullSubmitter struct{}

func (NullSubmitter) SubmitMessage(context.Context, string, []byte) (uint64, error) {
	return 0, fmt.Errorf("hedera: no consensus-service credentials configured, cannot publish")
}

func (NullSubmitter) CreateTopic(context.Context) (string, error) {
	return "", fmt.Errorf("hedera: no consensus-service credentials configured, cannot create topic")
}

// MirrorClient implements logsource.Source against a mirror-node base
// URL (e.g. "https://testnet.mirrornode.hedera.com").
type MirrorClient struct {
	BaseURL   string
	HTTP      *http.Client
	Submitter Submitter
}

// New creates a MirrorClient. If submitter is nil, NullSubmitter is used.
func New(baseURL string, submitter Submitter) *MirrorClient {
	if submitter == nil {
		submitter = NullSubmitter{}
	}
	return &MirrorClient{
		BaseURL:   baseURL,
		HTTP:      &http.Client{},
		Submitter: submitter,
	}
}

// topicResponse is the subset of GET /api/v1/topics/{id} we need.
type topicResponse struct {
	TopicID string `json:"topic_id"`
}

// TopicExists queries the mirror node for topicID's existence.
func (c *MirrorClient) TopicExists(ctx context.Context, topicID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, topicProbeTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/v1/topics/%s", c.BaseURL, topicID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, fmt.Errorf("hedera: topic probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("hedera: topic probe returned %d", resp.StatusCode)
	}
	var tr topicResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return false, fmt.Errorf("hedera: decode topic response: %w", err)
	}
	return true, nil
}

// mirrorMessage is one entry of the /messages response wire schema.
type mirrorMessage struct {
	SequenceNumber     uint64 `json:"sequence_number"`
	ConsensusTimestamp string `json:"consensus_timestamp"`
	Message            string `json:"message"` // base64
	PayerAccountID     string `json:"payer_account_id"`
	ChunkInfo          *struct {
		InitialTransactionID struct {
			TransactionValidStart string `json:"transaction_valid_start"`
		} `json:"initial_transaction_id"`
		Number int `json:"number"`
		Total  int `json:"total"`
	} `json:"chunk_info,omitempty"`
}

type messagesResponse struct {
	Messages []mirrorMessage `json:"messages"`
}

// ListMessages fetches messages with sequence_number > afterSeq, in
// ascending order, up to limit entries. A 404 is treated as "no
// messages" rather than an error.
func (c *MirrorClient) ListMessages(ctx context.Context, topicID string, afterSeq *uint64, limit int) ([]models.LogMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, listMessageTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	url := fmt.Sprintf("%s/api/v1/topics/%s/messages?order=asc&limit=%d", c.BaseURL, topicID, limit)
	if afterSeq != nil {
		url += "&sequencenumber=gt:" + strconv.FormatUint(*afterSeq, 10)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hedera: list messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("hedera: read messages body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("hedera: list messages returned %d: %s", resp.StatusCode, body)
	}

	var mr messagesResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		return nil, fmt.Errorf("hedera: decode messages: %w", err)
	}

	out := make([]models.LogMessage, 0, len(mr.Messages))
	for _, m := range mr.Messages {
		payload, err := base64.StdEncoding.DecodeString(m.Message)
		if err != nil {
			return nil, fmt.Errorf("hedera: decode message payload: %w", err)
		}
		lm := models.LogMessage{
			SequenceNumber:     m.SequenceNumber,
			ConsensusTimestamp: m.ConsensusTimestamp,
			Payload:            payload,
			Payer:              m.PayerAccountID,
		}
		if m.ChunkInfo != nil {
			lm.ChunkInfo = &models.ChunkInfo{
				GroupID: m.ChunkInfo.InitialTransactionID.TransactionValidStart,
				Index:   m.ChunkInfo.Number,
				Total:   m.ChunkInfo.Total,
			}
		}
		out = append(out, lm)
	}
	return out, nil
}

// Publish submits bytes as a new message via the configured Submitter.
func (c *MirrorClient) Publish(ctx context.Context, topicID string, bytes []byte) (*logsource.PublishResult, error) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	seq, err := c.Submitter.SubmitMessage(ctx, topicID, bytes)
	if err != nil {
		return nil, fmt.Errorf("hedera: publish: %w", err)
	}
	return &logsource.PublishResult{SequenceNumber: seq}, nil
}

// CreateTopic provisions a new topic via the configured Submitter.
func (c *MirrorClient) CreateTopic(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return c.Submitter.CreateTopic(ctx)
}
