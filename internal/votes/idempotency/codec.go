// Package idempotency derives and resolves the keys that make retried cast
// requests safe.
//
// Keys are computed server-side from the semantic identity of the vote
// intent, never accepted from the client: a retry with a fresh client-chosen
// UUID would defeat deduplication, and a forged key could poison another
// voter's intent.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	id "provote/pkg/domain"
)

// Intent is the semantic identity of one vote. Same intent, same key; a
// different option or poll yields an unrelated key.
type Intent struct {
	UserID   id.UserID // zero for anonymous
	PollID   id.PollID
	OptionID id.OptionID

	// Anonymous voters are identified by fingerprint and IP.
	Fingerprint string
	IPAddress   string
}

// Key derives the deterministic 64-hex-char identifier for an intent.
// SHA-256 keeps collision probability cryptographically negligible.
func Key(intent Intent) string {
	var material string
	if intent.UserID.IsNil() {
		material = fmt.Sprintf("anon:%s:%s:%s:%s",
			intent.PollID, intent.OptionID, intent.Fingerprint, intent.IPAddress)
	} else {
		material = fmt.Sprintf("%s:%s:%s",
			intent.UserID, intent.PollID, intent.OptionID)
	}
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}
