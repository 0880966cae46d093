package accounts

import (
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/klawleybot/fleetd/internal/domain"
)

// LocalSigner derives owner addresses from a raw private key. Used by
// the "local" signer backend; hosted backends resolve addresses
// through their own account registry instead.
type LocalSigner struct {
	key *ecdsa.PrivateKey
}

// NewLocalSignerFromHex parses a hex-encoded secp256k1 private key,
// with or without a 0x prefix.
func NewLocalSignerFromHex(hexKey string) (*LocalSigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, domain.WrapError(domain.KindConfigInvalid, err, "invalid signer private key")
	}
	return &LocalSigner{key: key}, nil
}

// Address returns the EOA address derived from the key.
func (s *LocalSigner) Address() string {
	return domain.NormalizeAddress(crypto.PubkeyToAddress(s.key.PublicKey).Hex())
}
