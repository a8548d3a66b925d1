// Package cryptokit implements the hybrid RSA+AES envelope, Ethereum
// personal-sign recovery, and CREATE/CREATE2 address derivation used by
// the route-admission pipeline. Every function here is pure — no state,
// no I/O beyond crypto/rand.
package cryptokit

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidEnvelope is returned when an envelope is missing required
// fields or names an unsupported algorithm.
var ErrInvalidEnvelope = errors.New("cryptokit: invalid envelope")

// ErrDecryptFailed wraps any RSA/AES failure during decryptHybrid.
var ErrDecryptFailed = errors.New("cryptokit: decrypt failed")

// envelope is the wire shape of a hybrid-encrypted payload.
type envelope struct {
	Key       string `json:"key"`
	IV        string `json:"iv"`
	Data      string `json:"data"`
	Algorithm string `json:"algorithm,omitempty"`
}

// EncryptHybrid generates a fresh AES-256 key and IV, encrypts plaintext
// with AES-256-CBC + PKCS#7 padding, encrypts the AES key with
// RSA-OAEP-SHA256 under pubKeyPEM, and returns the raw JSON envelope.
func EncryptHybrid(pubKeyPEM string, plaintext []byte) ([]byte, error) {
	pub, err := parseRSAPublicKey(pubKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("cryptokit: parse public key: %w", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("cryptokit: generate AES key: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("cryptokit: generate IV: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptokit: aes cipher: %w", err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	encKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptokit: rsa-oaep encrypt key: %w", err)
	}

	env := envelope{
		Key:  base64.StdEncoding.EncodeToString(encKey),
		IV:   base64.StdEncoding.EncodeToString(iv),
		Data: base64.StdEncoding.EncodeToString(ciphertext),
	}
	return json.Marshal(env)
}

// DecryptHybrid accepts a raw JSON envelope, or a base64-wrapped JSON
// envelope (one extra base64 layer for interop), decrypts the AES key
// with privKeyPEM and returns the plaintext.
func DecryptHybrid(privKeyPEM string, raw []byte) ([]byte, error) {
	priv, err := parseRSAPrivateKey(privKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", ErrDecryptFailed, err)
	}

	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}

	if env.Key == "" || env.IV == "" || env.Data == "" {
		return nil, ErrInvalidEnvelope
	}
	if env.Algorithm != "" && env.Algorithm != "RSA+AES" {
		return nil, ErrInvalidEnvelope
	}

	encKey, err := base64.StdEncoding.DecodeString(env.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: decode key: %v", ErrDecryptFailed, err)
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: decode iv: %v", ErrDecryptFailed, err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode data: %v", ErrDecryptFailed, err)
	}

	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, encKey, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: rsa-oaep decrypt key: %v", ErrDecryptFailed, err)
	}

	if len(iv) != aes.BlockSize || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: malformed aes input", ErrDecryptFailed)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: aes cipher: %v", ErrDecryptFailed, err)
	}
	plaintextPadded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintextPadded, ciphertext)

	plaintext, err := pkcs7Unpad(plaintextPadded, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return plaintext, nil
}

// parseEnvelope accepts either raw JSON `{key,iv,data}` or a base64
// string that decodes to that JSON.
func parseEnvelope(raw []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && (env.Key != "" || env.IV != "" || env.Data != "") {
		return &env, nil
	}

	trimmed := bytes.TrimSpace(raw)
	decoded, err := base64.StdEncoding.DecodeString(string(trimmed))
	if err != nil {
		return nil, ErrInvalidEnvelope
	}
	if err := json.Unmarshal(decoded, &env); err != nil {
		return nil, ErrInvalidEnvelope
	}
	return &env, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	pad := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), pad...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}

func parseRSAPublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaPub, nil
}

func parseRSAPrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return rsaKey, nil
}

// GenerateRSAKeyPair creates a fresh 2048-bit RSA key pair, PEM-encoded.
func GenerateRSAKeyPair() (pubPEM, privPEM string, err error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", "", fmt.Errorf("cryptokit: generate rsa key: %w", err)
	}
	privBytes := x509.MarshalPKCS1PrivateKey(key)
	privBlock := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes}

	pubBytes := x509.MarshalPKCS1PublicKey(&key.PublicKey)
	pubBlock := &pem.Block{Type: "RSA PUBLIC KEY", Bytes: pubBytes}

	return string(pem.EncodeToMemory(pubBlock)), string(pem.EncodeToMemory(privBlock)), nil
}

// SignRSA signs the SHA-256 digest of message with a PKCS#1v15 signature
// under privKeyPEM. Used by ChallengeEngine to prove challenge origin.
func SignRSA(privKeyPEM string, message []byte) ([]byte, error) {
	priv, err := parseRSAPrivateKey(privKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("cryptokit: parse private key: %w", err)
	}
	digest := sha256.Sum256(message)
	return rsa.SignPKCS1v15(rand.Reader, priv, 0, digest[:])
}

// personalSignHash implements Ethereum's "personal sign" message
// framing: it returns keccak-256 of
// "\x19Ethereum Signed Message:\n" + len(message) + message.
func personalSignHash(message []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return crypto.Keccak256([]byte(prefix), message)
}

// RecoverSigner recovers the lowercase 0x-prefixed Ethereum address that
// produced sig65 over message using the personal-sign scheme.
func RecoverSigner(message []byte, sig65 []byte) (string, error) {
	if len(sig65) != 65 {
		return "", fmt.Errorf("cryptokit: signature must be 65 bytes, got %d", len(sig65))
	}
	sig := make([]byte, 65)
	copy(sig, sig65)
	// Ecrecover expects the recovery id in {0,1}; personal-sign
	// signatures are commonly produced with v in {27,28}.
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	digest := personalSignHash(message)
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("cryptokit: ecrecover: %w", err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}

// AddrFromCreate derives the standard Ethereum CREATE contract address.
func AddrFromCreate(deployer string, nonce uint64) (string, error) {
	if !common.IsHexAddress(deployer) {
		return "", fmt.Errorf("cryptokit: invalid deployer address %q", deployer)
	}
	addr := crypto.CreateAddress(common.HexToAddress(deployer), nonce)
	return addr.Hex(), nil
}

// AddrFromCreate2 derives the standard Ethereum CREATE2 contract address.
func AddrFromCreate2(deployer string, salt [32]byte, initCodeHash [32]byte) (string, error) {
	if !common.IsHexAddress(deployer) {
		return "", fmt.Errorf("cryptokit: invalid deployer address %q", deployer)
	}
	addr := crypto.CreateAddress2(common.HexToAddress(deployer), salt, initCodeHash[:])
	return addr.Hex(), nil
}

// DecodeHex32 decodes a 0x-prefixed or bare 32-byte hex string.
func DecodeHex32(s string) ([32]byte, error) {
	var out [32]byte
	b := common.FromHex(s)
	if len(b) != 32 {
		return out, fmt.Errorf("cryptokit: expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// CanonicalRouteMessage builds the exact byte string signed for one
// route: addr + proofType + (nonce decimal | salt hex) + url,
// concatenated with no separators.
func CanonicalRouteMessage(addr string, proofType string, nonceOrSalt string, url string) []byte {
	var b bytes.Buffer
	b.WriteString(addr)
	b.WriteString(proofType)
	b.WriteString(nonceOrSalt)
	b.WriteString(url)
	return b.Bytes()
}

// FormatNonce renders a nonce in the decimal form used by
// CanonicalRouteMessage for proofType="create".
func FormatNonce(nonce uint64) string {
	return new(big.Int).SetUint64(nonce).String()
}
