package hedera

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTopicExistsTrueAndFalse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/topics/0.0.100":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"topic_id":"0.0.100"}`))
		case "/api/v1/topics/0.0.999":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := New(server.URL, nil)

	exists, err := client.TopicExists(context.Background(), "0.0.100")
	if err != nil || !exists {
		t.Fatalf("expected existing topic, got exists=%v err=%v", exists, err)
	}

	exists, err = client.TopicExists(context.Background(), "0.0.999")
	if err != nil || exists {
		t.Fatalf("expected missing topic to report false with no error, got exists=%v err=%v", exists, err)
	}
}

func TestListMessagesDecodesPayloadAndChunkInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := base64.StdEncoding.EncodeToString([]byte("hello route"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{
			"sequence_number": 5,
			"consensus_timestamp": "123.456",
			"message": "` + payload + `",
			"payer_account_id": "0.0.2",
			"chunk_info": {
				"initial_transaction_id": {"transaction_valid_start": "123.000"},
				"number": 1,
				"total": 2
			}
		}]}`))
	}))
	defer server.Close()

	client := New(server.URL, nil)
	after := uint64(4)
	messages, err := client.ListMessages(context.Background(), "0.0.100", &after, 10)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected one message, got %d", len(messages))
	}
	if string(messages[0].Payload) != "hello route" {
		t.Fatalf("expected decoded payload, got %q", messages[0].Payload)
	}
	if messages[0].ChunkInfo == nil || messages[0].ChunkInfo.GroupID != "123.000" || messages[0].ChunkInfo.Total != 2 {
		t.Fatalf("expected chunk info translated, got %+v", messages[0].ChunkInfo)
	}
}

func TestListMessagesReturnsEmptyOnNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := New(server.URL, nil)
	messages, err := client.ListMessages(context.Background(), "0.0.100", nil, 10)
	if err != nil {
		t.Fatalf("expected no error on 404, got %v", err)
	}
	if messages != nil {
		t.Fatalf("expected nil messages on 404, got %v", messages)
	}
}

func TestNullSubmitterRejectsWrites(t *testing.T) {
	client := New("https://testnet.mirrornode.hedera.com", nil)

	if _, err := client.Publish(context.Background(), "0.0.100", []byte("x")); err == nil {
		t.Fatalf("expected publish to fail with no configured submitter")
	}
	if _, err := client.CreateTopic(context.Background()); err == nil {
		t.Fatalf("expected create topic to fail with no configured submitter")
	}
}

type fakeSubmitter struct {
	seq       uint64
	topic     string
	submitErr error
	createErr error
}

func (f *fakeSubmitter) SubmitMessage(ctx context.Context, topicID string, b []byte) (uint64, error) {
	if f.submitErr != nil {
		return 0, f.submitErr
	}
	return f.seq, nil
}

func (f *fakeSubmitter) CreateTopic(ctx context.Context) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.topic, nil
}

func TestPublishDelegatesToSubmitter(t *testing.T) {
	client := New("https://testnet.mirrornode.hedera.com", &fakeSubmitter{seq: 9})

	result, err := client.Publish(context.Background(), "0.0.1", []byte("payload"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if result.SequenceNumber != 9 {
		t.Fatalf("expected sequence 9, got %d", result.SequenceNumber)
	}
}

func TestPublishWrapsSubmitterError(t *testing.T) {
	client := New("https://testnet.mirrornode.hedera.com", &fakeSubmitter{submitErr: errors.New("insufficient fee")})

	if _, err := client.Publish(context.Background(), "0.0.1", []byte("x")); err == nil {
		t.Fatalf("expected wrapped submitter error")
	}
}
