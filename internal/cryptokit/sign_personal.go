package cryptokit

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// SignPersonal signs message with priv using the personal-sign scheme,
// returning a 65-byte [R || S || V] signature with V in {27,28}. Used by
// ChallengeEngine's test doubles and by any caller that must produce a
// route signature (provers, in tests).
func SignPersonal(priv *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	digest := personalSignHash(message)
	sig, err := crypto.Sign(digest, priv)
	if err != nil {
		return nil, fmt.Errorf("cryptokit: sign: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}
