// Package challenge issues a signed liveness/ownership challenge to a
// candidate prover URL and verifies the response, per route, so that a
// single route's failure never affects its siblings.
package challenge

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ethdenver2026/relay/internal/cryptokit"
	"github.com/ethdenver2026/relay/internal/models"
)

// requestTimeout is the per-HTTP-request timeout for a challenge call.
const requestTimeout = 10 * time.Second

// wirePayload is the canonical serialisation sent to and signed over by
// both ends: {challengeId, url, contractAddress, nonce, issuedAt}.
type wirePayload struct {
	ChallengeID     string `json:"challengeId"`
	URL             string `json:"url"`
	ContractAddress string `json:"contractAddress"`
	Nonce           string `json:"nonce"`
	IssuedAt        string `json:"issuedAt"`
}

// requestBody is the JSON POSTed to {url}/challenge.
type requestBody struct {
	Challenge wirePayload `json:"challenge"`
	Signature string      `json:"signature"`
}

// aesWrapped wraps a JSON body in AES-256-CBC for provers that
// negotiated an end-to-end session key in their announcement.
type aesWrapped struct {
	IV   string `json:"iv"`
	Data string `json:"data"`
}

// responseBody is the expected JSON shape of a prover's response.
type responseBody struct {
	ChallengeID string `json:"challengeId"`
	Signature   string `json:"signature"`
	Status      string `json:"status"`
}

// Engine issues and verifies challenges.
type Engine struct {
	HTTP *http.Client
}

// New creates an Engine with the mandatory 10s per-request timeout.
func New() *Engine {
	return &Engine{HTTP: &http.Client{Timeout: requestTimeout}}
}

// Challenge issues a challenge to url for contractAddress, signed with
// signerRSAPriv (the proxy's own key, proving challenge origin), and
// verifies the response is signed by announcementSigner. sessionAESKey,
// if exactly 32 bytes long, is used to transparently wrap/unwrap the
// challenge body for provers that negotiated an end-to-end AES session;
// a key of any other length is ignored and the body is sent unwrapped.
func (e *Engine) Challenge(ctx context.Context, url, contractAddress, signerRSAPriv, announcementSigner string, sessionAESKey []byte) error {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return &models.ChallengeError{Tag: models.ErrHTTPError, Err: fmt.Errorf("generate nonce: %w", err)}
	}

	payload := wirePayload{
		ChallengeID:     uuid.New().String(),
		URL:             url,
		ContractAddress: contractAddress,
		Nonce:           base64.StdEncoding.EncodeToString(nonce),
		IssuedAt:        time.Now().UTC().Format(time.RFC3339Nano),
	}

	canonical, err := json.Marshal(payload)
	if err != nil {
		return &models.ChallengeError{Tag: models.ErrHTTPError, Err: err}
	}

	sig, err := cryptokit.SignRSA(signerRSAPriv, canonical)
	if err != nil {
		return &models.ChallengeError{Tag: models.ErrHTTPError, Err: fmt.Errorf("sign challenge: %w", err)}
	}

	reqBody := requestBody{Challenge: payload, Signature: base64.StdEncoding.EncodeToString(sig)}
	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return &models.ChallengeError{Tag: models.ErrHTTPError, Err: err}
	}

	wireBody := reqJSON
	if len(sessionAESKey) == 32 {
		wrapped, err := aesEncrypt(sessionAESKey, reqJSON)
		if err != nil {
			return &models.ChallengeError{Tag: models.ErrHTTPError, Err: fmt.Errorf("wrap challenge: %w", err)}
		}
		wireBody = wrapped
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(url, "/")+"/challenge", bytes.NewReader(wireBody))
	if err != nil {
		return &models.ChallengeError{Tag: models.ErrHTTPError, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTP.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return &models.ChallengeError{Tag: models.ErrTimeout, Err: err}
		}
		return &models.ChallengeError{Tag: models.ErrHTTPError, Err: err}
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &models.ChallengeError{Tag: models.ErrHTTPError, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &models.ChallengeError{Tag: models.ErrHTTPError, Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBytes)}
	}

	// The engine transparently tries both the wrapped and unwrapped
	// forms of the response, since a prover may or may not echo the
	// AES session wrapping on its way back.
	respData, ok := decodeResponse(respBytes)
	if !ok && len(sessionAESKey) == 32 {
		if unwrapped, uerr := aesDecrypt(sessionAESKey, respBytes); uerr == nil {
			respData, ok = decodeResponse(unwrapped)
		}
	}
	if !ok {
		return &models.ChallengeError{Tag: models.ErrBadResponseFormat, Err: fmt.Errorf("malformed response body")}
	}

	if respData.ChallengeID != payload.ChallengeID {
		return &models.ChallengeError{Tag: models.ErrChallengeIDMismatch}
	}

	sigBytes, err := decodeSignature(respData.Signature)
	if err != nil {
		return &models.ChallengeError{Tag: models.ErrBadResponseFormat, Err: err}
	}

	recovered, err := cryptokit.RecoverSigner(canonical, sigBytes)
	if err != nil || !strings.EqualFold(recovered, announcementSigner) {
		return &models.ChallengeError{Tag: models.ErrBadResponseSignature, Err: err}
	}

	return nil
}

func decodeResponse(raw []byte) (responseBody, bool) {
	var respData responseBody
	if err := json.Unmarshal(raw, &respData); err != nil || respData.ChallengeID == "" {
		return responseBody{}, false
	}
	return respData, true
}

func decodeSignature(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == 65 {
		return b, nil
	}
	trimmed := strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(b) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(b))
	}
	return b, nil
}

func aesEncrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(append([]byte{}, plaintext...), bytes.Repeat([]byte{byte(padLen)}, padLen)...)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	wrapped := aesWrapped{
		IV:   base64.StdEncoding.EncodeToString(iv),
		Data: base64.StdEncoding.EncodeToString(ciphertext),
	}
	return json.Marshal(wrapped)
}

func aesDecrypt(key, wireBody []byte) ([]byte, error) {
	var wrapped aesWrapped
	if err := json.Unmarshal(wireBody, &wrapped); err != nil {
		return nil, err
	}
	iv, err := base64.StdEncoding.DecodeString(wrapped.IV)
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(wrapped.Data)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("malformed aes-wrapped response")
	}
	plaintext := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, data)
	padLen := int(plaintext[len(plaintext)-1])
	if padLen <= 0 || padLen > aes.BlockSize || padLen > len(plaintext) {
		return nil, fmt.Errorf("invalid padding")
	}
	return plaintext[:len(plaintext)-padLen], nil
}
