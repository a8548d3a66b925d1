package admission

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ethdenver2026/relay/internal/challenge"
	"github.com/ethdenver2026/relay/internal/cryptokit"
	"github.com/ethdenver2026/relay/internal/models"
	"github.com/ethdenver2026/relay/internal/routestore"
)

type confirmationLog struct {
	mu   sync.Mutex
	seen []map[string]interface{}
}

func (c *confirmationLog) record(v map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, v)
}

func (c *confirmationLog) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func TestAdmitCommitsValidRouteAfterSuccessfulChallenge(t *testing.T) {
	proxyPub, proxyPriv, err := cryptokit.GenerateRSAKeyPair()
	if err != nil {
		t.Fatalf("generate proxy rsa keys: %v", err)
	}

	proverKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate prover key: %v", err)
	}
	deployer := crypto.PubkeyToAddress(proverKey.PublicKey)
	nonce := uint64(1)

	contractAddr, err := cryptokit.AddrFromCreate(deployer.Hex(), nonce)
	if err != nil {
		t.Fatalf("addr from create: %v", err)
	}

	confirmations := &confirmationLog{}
	var serverURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/challenge", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Challenge json.RawMessage `json:"challenge"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		var challengeFields struct {
			ChallengeID string `json:"challengeId"`
		}
		_ = json.Unmarshal(body.Challenge, &challengeFields)

		sig, err := cryptokit.SignPersonal(proverKey, body.Challenge)
		if err != nil {
			t.Fatalf("sign challenge: %v", err)
		}
		resp := map[string]string{
			"challengeId": challengeFields.ChallengeID,
			"signature":   base64.StdEncoding.EncodeToString(sig),
			"status":      "ok",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/confirmation", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		confirmations.record(body)
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	canonical := cryptokit.CanonicalRouteMessage(contractAddr, string(models.ProofCreate), cryptokit.FormatNonce(nonce), serverURL)
	routeSig, err := cryptokit.SignPersonal(proverKey, canonical)
	if err != nil {
		t.Fatalf("sign route: %v", err)
	}

	ann := models.Announcement{Routes: []models.Route{{
		Addr:      contractAddr,
		ProofType: models.ProofCreate,
		URL:       serverURL,
		Sig:       "0x" + hexEncode(routeSig),
		Nonce:     &nonce,
	}}}
	annJSON, err := json.Marshal(ann)
	if err != nil {
		t.Fatalf("marshal announcement: %v", err)
	}

	envelope, err := cryptokit.EncryptHybrid(proxyPub, annJSON)
	if err != nil {
		t.Fatalf("encrypt announcement: %v", err)
	}

	store, err := routestore.Open(filepath.Join(t.TempDir(), "routestore.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	coordinator := New(store, challenge.New(), proxyPriv)
	coordinator.Admit(context.Background(), envelope)

	if got := store.GetTarget(contractAddr, ""); got != serverURL {
		t.Fatalf("expected route committed to store, got %q", got)
	}
	if confirmations.count() != 1 {
		t.Fatalf("expected exactly one confirmation POST, got %d", confirmations.count())
	}
}

func TestAdmitSilentlyIgnoresUndecryptablePayload(t *testing.T) {
	_, proxyPriv, err := cryptokit.GenerateRSAKeyPair()
	if err != nil {
		t.Fatalf("generate rsa keys: %v", err)
	}
	store, err := routestore.Open(filepath.Join(t.TempDir(), "routestore.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	coordinator := New(store, challenge.New(), proxyPriv)
	coordinator.Admit(context.Background(), []byte("not an envelope at all"))

	if len(store.Routes()) != 0 {
		t.Fatalf("expected no routes committed from garbage payload")
	}
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0x0F]
	}
	return string(out)
}
