// Package teamcrypto defines the external team-scoped signing interfaces
// consumed by the P2P Sync Engine (spec §6.2, §6.3): signing and verifying
// team-scoped sync operations, and checking team membership. Key
// distribution and the team-crypto module's actual key material are out of
// scope (spec §1, "the vault file-content cryptography"); this package
// supplies a default HMAC-SHA256 implementation keyed by a per-team secret
// supplied by the caller, which is the shape the original source's
// team-crypto module exposes.
package teamcrypto

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/collabcore/core/internal/principal"
)

// CanonicalPayload is the exact key order spec §6.2 mandates for the
// signed representation of a sync operation (signature excluded).
type CanonicalPayload struct {
	OpID      string `json:"op_id"`
	TableName string `json:"table_name"`
	Operation string `json:"operation"`
	RowID     string `json:"row_id"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
	PeerID    string `json:"peer_id"`
	Version   int64  `json:"version"`
	TeamID    string `json:"team_id"`
}

// Canonicalize renders p in the exact key order spec §6.2 requires, by
// relying on CanonicalPayload's field declaration order, which
// encoding/json preserves for struct marshaling.
func Canonicalize(p CanonicalPayload) ([]byte, error) {
	return json.Marshal(p)
}

// Signer signs a canonical payload for a team. Implementations should fall
// back to an empty signature if the team-crypto module is unavailable
// (spec §6.3), never error out the caller's write path.
type Signer interface {
	Sign(ctx context.Context, payload []byte, teamID string) (signature string, err error)
}

// Verifier verifies a signature over a canonical payload for a team.
// Implementations should fall back to true ("dev mode") if the module is
// unavailable, per spec §6.3.
type Verifier interface {
	Verify(ctx context.Context, payload []byte, signature string, teamID string) bool
}

// Membership answers team-membership queries, consumed by both the sync
// engine (to reject non-member ops, spec §4.3) and the workflow store.
type Membership interface {
	// IsMember returns the caller's role within teamID, or "" if they are
	// not a member.
	IsMember(ctx context.Context, teamID, userID string) principal.Role
}

// HMACCrypto is the default Signer/Verifier: HMAC-SHA256 over the
// canonical payload, keyed per team. Keys are supplied out of band (e.g.
// loaded from the team record) via KeyFor; if KeyFor returns ok=false the
// module is considered unavailable and Sign returns an empty signature
// while Verify returns true, matching spec §6.3's fallback contract.
type HMACCrypto struct {
	mu     sync.RWMutex
	keyFor func(teamID string) (key []byte, ok bool)
}

// NewHMACCrypto builds an HMACCrypto that resolves per-team keys via
// keyFor.
func NewHMACCrypto(keyFor func(teamID string) ([]byte, bool)) *HMACCrypto {
	return &HMACCrypto{keyFor: keyFor}
}

func (c *HMACCrypto) Sign(_ context.Context, payload []byte, teamID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	key, ok := c.keyFor(teamID)
	if !ok {
		return "", nil
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (c *HMACCrypto) Verify(_ context.Context, payload []byte, signature string, teamID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	key, ok := c.keyFor(teamID)
	if !ok {
		return true // dev-mode fallback, per spec §6.3
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// StaticKeyring is a simple in-memory teamID -> key map usable as the
// keyFor function passed to NewHMACCrypto.
type StaticKeyring struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewStaticKeyring builds an empty StaticKeyring.
func NewStaticKeyring() *StaticKeyring {
	return &StaticKeyring{keys: make(map[string][]byte)}
}

// Set installs the signing key for teamID.
func (k *StaticKeyring) Set(teamID string, key []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[teamID] = key
}

// Lookup implements the keyFor signature expected by NewHMACCrypto.
func (k *StaticKeyring) Lookup(teamID string) ([]byte, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[teamID]
	return key, ok
}
