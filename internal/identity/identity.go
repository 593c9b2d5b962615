// Package identity implements optional secp256k1 signature
// verification for participant-originated requests, so a coordinator
// deployment can require every settlement request to be signed by its
// submitting participant's registered key.
package identity

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/settlecoord/coordinator/internal/coordinatorerrors"
)

// Identity is a participant's verification key, held by the
// coordinator to authenticate that participant's signed requests.
type Identity struct {
	publicKey *btcec.PublicKey
}

// FromHexPublicKey parses a compressed secp256k1 public key encoded as
// a hex string.
func FromHexPublicKey(hexKey string) (*Identity, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, coordinatorerrors.New(coordinatorerrors.KindCryptoError, "identity.FromHexPublicKey", err)
	}
	pub, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, coordinatorerrors.New(coordinatorerrors.KindCryptoError, "identity.FromHexPublicKey", err)
	}
	return &Identity{publicKey: pub}, nil
}

// PublicKeyHex renders the compressed public key as a hex string.
func (id *Identity) PublicKeyHex() string {
	return hex.EncodeToString(id.publicKey.SerializeCompressed())
}

// Verify checks that sig is a valid DER-encoded secp256k1 signature
// over the first 32 bytes of message's SHA-512 digest by this
// identity's key.
func (id *Identity) Verify(message, sig []byte) error {
	parsedSig, err := btcecdsa.ParseDERSignature(sig)
	if err != nil {
		return coordinatorerrors.New(coordinatorerrors.KindInvalidSignature, "identity.Verify", err)
	}

	h := sha512.New()
	h.Write(message)
	digest := h.Sum(nil)[:32]

	if !parsedSig.Verify(digest, id.publicKey) {
		return coordinatorerrors.New(coordinatorerrors.KindInvalidSignature, "identity.Verify", fmt.Errorf("signature verification failed"))
	}
	return nil
}

// KeyRegistry maps registered participant ids to their verification
// keys. Not concurrency-guarded: keys are expected to be loaded once at
// startup from configuration, not mutated at request time.
type KeyRegistry struct {
	keys map[string]*Identity
}

func NewKeyRegistry() *KeyRegistry {
	return &KeyRegistry{keys: make(map[string]*Identity)}
}

// Register associates participantId with its public key, given as hex.
func (r *KeyRegistry) Register(participantId, hexPublicKey string) error {
	id, err := FromHexPublicKey(hexPublicKey)
	if err != nil {
		return err
	}
	r.keys[participantId] = id
	return nil
}

// VerifyRequest checks that sig over message validates against
// participantId's registered key, failing KindUnknownParticipant if no
// key is registered for that id.
func (r *KeyRegistry) VerifyRequest(participantId string, message, sig []byte) error {
	id, ok := r.keys[participantId]
	if !ok {
		return coordinatorerrors.New(coordinatorerrors.KindUnknownParticipant, "identity.KeyRegistry.VerifyRequest", nil)
	}
	return id.Verify(message, sig)
}
