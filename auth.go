package linebus

import (
	"encoding/base64"

	"golang.org/x/crypto/blake2b"
)

// signNonce derives a deterministic signature over the server-issued
// nonce from the connection's opaque credential seed. The core does not
// invent an authentication scheme (per design) — this stands in for the
// "nkey+sig" challenge/response material named in §6, treating the seed
// as an opaque pre-shared secret rather than implementing real public-key
// cryptography.
func signNonce(seed, nonce string) (string, error) {
	mac, err := blake2b.New256([]byte(seed))
	if err != nil {
		return "", wrapError(KindAuthFailed, "failed to initialize nonce signer", err)
	}
	if _, err := mac.Write([]byte(nonce)); err != nil {
		return "", wrapError(KindAuthFailed, "failed to sign nonce", err)
	}
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}
