package idhash

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/mr-tron/base58"

	"intraday-trader/internal/domain"
)

// intentIDBytes is how much of the digest is kept. 16 bytes encode to at
// most 22 base58 characters, inside common broker client-order-id limits.
const intentIDBytes = 16

// ComputeIntentID computes a deterministic intent_id.
// Formula: SHA256(symbol|action|quantity|reason|emergency|created_at_unix_nano)
// truncated to 16 bytes and base58-encoded.
// The same ID is reused as the broker client order ID on every retry of the
// intent so a duplicate submit can be detected broker-side.
func ComputeIntentID(
	symbol string,
	action domain.Action,
	quantity int64,
	reason string,
	emergency bool,
	createdAt time.Time,
) string {
	data := fmt.Sprintf("%s|%s|%d|%s|%t|%d",
		symbol,
		string(action),
		quantity,
		reason,
		emergency,
		createdAt.UnixNano(),
	)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:intentIDBytes])
}
