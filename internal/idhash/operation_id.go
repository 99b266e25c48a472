// Package idhash derives deterministic identifiers for journal records.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"bondcurve-ledger/internal/domain"
)

// ComputeOperationID computes a deterministic operation_id using SHA256.
// Formula: SHA256(kind|user|sequence|timestamp)
// Returns hex-encoded hash (64 characters).
func ComputeOperationID(
	kind domain.OperationKind,
	user domain.Address,
	sequence uint64,
	timestamp int64,
) string {
	data := fmt.Sprintf("%s|%s|%d|%d",
		string(kind),
		user.String(),
		sequence,
		timestamp,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
