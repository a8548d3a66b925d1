// Package admission orchestrates the route-admission flow: decrypt,
// parse, validate, challenge, commit. A route failing validation or
// challenge never blocks its siblings in the same announcement.
package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethdenver2026/relay/internal/challenge"
	"github.com/ethdenver2026/relay/internal/cryptokit"
	"github.com/ethdenver2026/relay/internal/models"
	"github.com/ethdenver2026/relay/internal/routestore"
	"github.com/ethdenver2026/relay/internal/routevalidator"
)

// confirmationTimeout bounds both /confirmation POSTs.
const confirmationTimeout = 10 * time.Second

// Coordinator wires CryptoKit, RouteValidator, ChallengeEngine, and
// RouteStore into the per-message admission pipeline.
type Coordinator struct {
	Store     *routestore.Store
	Challenge *challenge.Engine
	HTTP      *http.Client

	// PrivKeyPEM is the proxy's long-term RSA private key, used both to
	// decrypt inbound announcements and to sign outbound challenges.
	PrivKeyPEM string
}

// New creates a Coordinator.
func New(store *routestore.Store, challengeEngine *challenge.Engine, privKeyPEM string) *Coordinator {
	return &Coordinator{
		Store:      store,
		Challenge:  challengeEngine,
		HTTP:       &http.Client{Timeout: confirmationTimeout},
		PrivKeyPEM: privKeyPEM,
	}
}

// Admit runs the full pipeline over one reassembled message's payload.
// An undecryptable payload or a non-{routes:[...]} shape is silently
// ignored — it just means the message wasn't for us.
func (c *Coordinator) Admit(ctx context.Context, payload []byte) {
	plaintext, err := cryptokit.DecryptHybrid(c.PrivKeyPEM, payload)
	if err != nil {
		if errors.Is(err, cryptokit.ErrInvalidEnvelope) || errors.Is(err, cryptokit.ErrDecryptFailed) {
			return
		}
		slog.Error("admission: unexpected decrypt error", "err", err)
		return
	}

	var ann models.Announcement
	if err := json.Unmarshal(plaintext, &ann); err != nil || ann.Routes == nil {
		return
	}

	result := routevalidator.Validate(ann)

	for _, invalid := range result.Invalid {
		c.notifyFailure(ctx, invalid.Route.URL, invalid.Route.Addr, invalid.Route.URL, string(invalid.Tag))
	}

	for _, route := range result.Valid {
		err := c.Challenge.Challenge(ctx, route.URL, route.Addr, c.PrivKeyPEM, result.Signer, nil)
		if err != nil {
			var cerr *models.ChallengeError
			reason := "ChallengeFailed"
			if errors.As(err, &cerr) {
				reason = string(cerr.Tag)
			}
			slog.Info("admission: challenge failed", "addr", route.Addr, "url", route.URL, "reason", reason)
			c.notifyFailure(ctx, route.URL, route.Addr, route.URL, reason)
			continue
		}

		if err := c.Store.UpdateRoutes(map[string]string{route.Addr: route.URL}); err != nil {
			slog.Error("admission: failed to persist committed route", "addr", route.Addr, "err", err)
			continue
		}
		slog.Info("admission: route committed", "addr", strings.ToLower(route.Addr), "url", route.URL)
		c.notifySuccess(ctx, route.URL, route.Addr, route.URL, result.Signer)
	}
}

type confirmationBody struct {
	Status         string `json:"status"`
	Addr           string `json:"addr"`
	URL            string `json:"url"`
	Timestamp      string `json:"timestamp"`
	OriginalSigner string `json:"originalSigner,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

func (c *Coordinator) notifySuccess(ctx context.Context, targetURL, addr, routeURL, signer string) {
	c.postConfirmation(ctx, targetURL, confirmationBody{
		Status:         "completed",
		Addr:           addr,
		URL:            routeURL,
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		OriginalSigner: signer,
	})
}

func (c *Coordinator) notifyFailure(ctx context.Context, targetURL, addr, routeURL, reason string) {
	c.postConfirmation(ctx, targetURL, confirmationBody{
		Status:    "failed",
		Addr:      addr,
		URL:       routeURL,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Reason:    reason,
	})
}

// postConfirmation is best-effort: timeouts and non-200s are logged but
// never retried.
func (c *Coordinator) postConfirmation(ctx context.Context, targetURL string, body confirmationBody) {
	raw, err := json.Marshal(body)
	if err != nil {
		slog.Error("admission: marshal confirmation", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, confirmationTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(targetURL, "/")+"/confirmation", bytes.NewReader(raw))
	if err != nil {
		slog.Warn("admission: build confirmation request", "url", targetURL, "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		slog.Warn("admission: confirmation POST failed", "url", targetURL, "err", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("admission: confirmation POST non-200", "url", targetURL, "status", resp.StatusCode)
	}
}
