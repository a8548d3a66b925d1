package challenge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ethdenver2026/relay/internal/cryptokit"
)

func TestChallengeSucceedsWhenProverSignsCorrectly(t *testing.T) {
	_, proxyPriv, err := cryptokit.GenerateRSAKeyPair()
	if err != nil {
		t.Fatalf("generate rsa key pair: %v", err)
	}

	proverKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate prover key: %v", err)
	}
	proverAddr := crypto.PubkeyToAddress(proverKey.PublicKey).Hex()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body requestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		canonical, err := json.Marshal(body.Challenge)
		if err != nil {
			t.Fatalf("remarshal challenge: %v", err)
		}
		sig, err := cryptokit.SignPersonal(proverKey, canonical)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		resp := responseBody{
			ChallengeID: body.Challenge.ChallengeID,
			Signature:   base64.StdEncoding.EncodeToString(sig),
			Status:      "ok",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	engine := New()
	err = engine.Challenge(context.Background(), server.URL, "0xcontract", proxyPriv, proverAddr, nil)
	if err != nil {
		t.Fatalf("expected challenge to succeed, got %v", err)
	}
}

func TestChallengeFailsOnWrongSigner(t *testing.T) {
	_, proxyPriv, err := cryptokit.GenerateRSAKeyPair()
	if err != nil {
		t.Fatalf("generate rsa key pair: %v", err)
	}

	proverKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate prover key: %v", err)
	}
	otherKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate other key: %v", err)
	}
	announcedSigner := crypto.PubkeyToAddress(otherKey.PublicKey).Hex()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body requestBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		canonical, _ := json.Marshal(body.Challenge)
		sig, _ := cryptokit.SignPersonal(proverKey, canonical) // signs with the WRONG key
		resp := responseBody{ChallengeID: body.Challenge.ChallengeID, Signature: base64.StdEncoding.EncodeToString(sig)}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	engine := New()
	err = engine.Challenge(context.Background(), server.URL, "0xcontract", proxyPriv, announcedSigner, nil)
	if err == nil {
		t.Fatalf("expected failure on signer mismatch")
	}
}

func TestChallengeFailsOnChallengeIDMismatch(t *testing.T) {
	_, proxyPriv, err := cryptokit.GenerateRSAKeyPair()
	if err != nil {
		t.Fatalf("generate rsa key pair: %v", err)
	}
	proverKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate prover key: %v", err)
	}
	proverAddr := crypto.PubkeyToAddress(proverKey.PublicKey).Hex()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body requestBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		canonical, _ := json.Marshal(body.Challenge)
		sig, _ := cryptokit.SignPersonal(proverKey, canonical)
		resp := responseBody{ChallengeID: "not-the-right-id", Signature: base64.StdEncoding.EncodeToString(sig)}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	engine := New()
	err = engine.Challenge(context.Background(), server.URL, "0xcontract", proxyPriv, proverAddr, nil)
	if err == nil {
		t.Fatalf("expected failure on challenge id mismatch")
	}
}

func TestChallengeFailsOnHTTPError(t *testing.T) {
	_, proxyPriv, err := cryptokit.GenerateRSAKeyPair()
	if err != nil {
		t.Fatalf("generate rsa key pair: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	engine := New()
	err = engine.Challenge(context.Background(), server.URL, "0xcontract", proxyPriv, "0xdead", nil)
	if err == nil {
		t.Fatalf("expected failure on non-200 response")
	}
}
