// Package bootstrap ensures the consensus topic exists and that its
// first message carries the proxy's RSA public key, before LogConsumer
// starts.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethdenver2026/relay/internal/cryptokit"
	"github.com/ethdenver2026/relay/internal/logsource"
	"github.com/ethdenver2026/relay/internal/models"
	"github.com/ethdenver2026/relay/internal/routestore"
)

// probeTimeout bounds the sequence-1 existence probe; exceeding it
// aborts bootstrap.
const probeTimeout = 5 * time.Second

// FatalError marks a bootstrap failure that must exit the process.
type FatalError struct{ Err error }

func (e *FatalError) Error() string { return "bootstrap: fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Run performs the one-shot startup sequence:
//   - configuredTopic == "": create a new topic, always publish the key
//     as message 1.
//   - configuredTopic != "": verify reachability, probe for message 1;
//     if absent, publish the key and wait for success.
//
// On success it returns the topic id LogConsumer should use.
func Run(ctx context.Context, source logsource.Source, store *routestore.Store, configuredTopic string) (string, error) {
	keys := store.RSAKeys()
	if keys == nil {
		pub, priv, err := cryptokit.GenerateRSAKeyPair()
		if err != nil {
			return "", &FatalError{Err: fmt.Errorf("generate rsa key pair: %w", err)}
		}
		generated := models.RSAKeyPair{PublicKey: pub, PrivateKey: priv, CreatedAt: time.Now().UTC()}
		if err := store.SetRSAKeys(generated); err != nil {
			return "", &FatalError{Err: fmt.Errorf("persist rsa key pair: %w", err)}
		}
		keys = &generated
	}

	if configuredTopic == "" {
		createCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		topic, err := source.CreateTopic(createCtx)
		cancel()
		if err != nil {
			return "", &FatalError{Err: fmt.Errorf("create topic: %w", err)}
		}
		if err := publishKey(ctx, source, topic, keys.PublicKey); err != nil {
			return "", &FatalError{Err: err}
		}
		slog.Info("bootstrap: created topic and published public key", "topic", topic)
		return topic, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	exists, err := source.TopicExists(probeCtx, configuredTopic)
	cancel()
	if err != nil {
		return "", &FatalError{Err: fmt.Errorf("topic %s unreachable: %w", configuredTopic, err)}
	}
	if !exists {
		return "", &FatalError{Err: fmt.Errorf("configured topic %s does not exist", configuredTopic)}
	}

	probeCtx2, cancel2 := context.WithTimeout(ctx, probeTimeout)
	messages, err := source.ListMessages(probeCtx2, configuredTopic, nil, 1)
	cancel2()
	if err != nil {
		return "", &FatalError{Err: fmt.Errorf("probe sequence 1 on topic %s: %w", configuredTopic, err)}
	}

	if len(messages) == 0 {
		if err := publishKey(ctx, source, configuredTopic, keys.PublicKey); err != nil {
			return "", &FatalError{Err: err}
		}
		slog.Info("bootstrap: published public key as message 1", "topic", configuredTopic)
	} else {
		slog.Info("bootstrap: topic already has message 1", "topic", configuredTopic)
	}

	return configuredTopic, nil
}

func publishKey(ctx context.Context, source logsource.Source, topic, pubKeyPEM string) error {
	_, err := source.Publish(ctx, topic, []byte(pubKeyPEM))
	if err != nil {
		return fmt.Errorf("publish public key: %w", err)
	}
	return nil
}
