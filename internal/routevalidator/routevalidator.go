// Package routevalidator verifies that every route in an announcement
// was signed by one common signer, and that the signer is the computed
// deployer of every announced contract address.
package routevalidator

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethdenver2026/relay/internal/cryptokit"
	"github.com/ethdenver2026/relay/internal/models"
)

// Validate checks every route in ann and partitions them into valid and
// invalid, recording the announcement's common signer. It never aborts
// on a single bad route — partial success is the whole point.
func Validate(ann models.Announcement) models.ValidationResult {
	var result models.ValidationResult

	for _, route := range ann.Routes {
		if tag, ok := checkRequiredFields(route); !ok {
			result.Invalid = append(result.Invalid, models.InvalidRoute{Route: route, Tag: tag})
			continue
		}

		canonical, nonceOrSalt := canonicalInputs(route)
		signer, err := cryptokit.RecoverSigner(canonical, common.FromHex(route.Sig))
		if err != nil {
			result.Invalid = append(result.Invalid, models.InvalidRoute{Route: route, Tag: models.ErrBadSignature})
			continue
		}
		signer = strings.ToLower(signer)

		if result.Signer == "" {
			result.Signer = signer
		} else if signer != result.Signer {
			result.Invalid = append(result.Invalid, models.InvalidRoute{Route: route, Tag: models.ErrInconsistentSigner})
			continue
		}

		expected, err := expectedAddress(route, signer, nonceOrSalt)
		if err != nil || !strings.EqualFold(expected, route.Addr) {
			result.Invalid = append(result.Invalid, models.InvalidRoute{Route: route, Tag: models.ErrInvalidOwnership})
			continue
		}

		result.Valid = append(result.Valid, route)
	}

	return result
}

// checkRequiredFields validates the per-proofType required fields.
func checkRequiredFields(route models.Route) (models.ValidatorErrorTag, bool) {
	if route.Addr == "" || route.URL == "" || route.Sig == "" {
		return models.ErrMissingField, false
	}
	switch route.ProofType {
	case models.ProofCreate:
		if route.Nonce == nil {
			return models.ErrMissingField, false
		}
	case models.ProofCreate2:
		if route.Salt == "" || route.InitCodeHash == "" {
			return models.ErrMissingField, false
		}
	default:
		return models.ErrUnknownProofType, false
	}
	return "", true
}

// canonicalInputs returns the exact signed message and the nonce/salt
// component used to build it, per the canonicalisation rule.
func canonicalInputs(route models.Route) ([]byte, string) {
	var nonceOrSalt string
	if route.ProofType == models.ProofCreate {
		nonceOrSalt = cryptokit.FormatNonce(*route.Nonce)
	} else {
		nonceOrSalt = route.Salt
	}
	return cryptokit.CanonicalRouteMessage(route.Addr, string(route.ProofType), nonceOrSalt, route.URL), nonceOrSalt
}

// expectedAddress derives the contract address the signer must own.
func expectedAddress(route models.Route, signer string, nonceOrSalt string) (string, error) {
	switch route.ProofType {
	case models.ProofCreate:
		return cryptokit.AddrFromCreate(signer, *route.Nonce)
	case models.ProofCreate2:
		salt, err := cryptokit.DecodeHex32(nonceOrSalt)
		if err != nil {
			return "", err
		}
		initCodeHash, err := cryptokit.DecodeHex32(route.InitCodeHash)
		if err != nil {
			return "", err
		}
		return cryptokit.AddrFromCreate2(signer, salt, initCodeHash)
	default:
		return "", nil
	}
}
