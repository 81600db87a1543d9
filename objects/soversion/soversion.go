// Package soversion encodes the store's (sequence number, primary term)
// pair into the opaque version token callers use for optimistic concurrency.
// The token is stable and reversible but never parsed outside this package.
package soversion

import (
	"encoding/base64"
	"encoding/json"

	"github.com/anyproto/anytype-object-store/domain"
	"github.com/anyproto/anytype-object-store/objects/soerror"
)

// Encode builds a version token from the concurrency pair.
func Encode(seqNo, primaryTerm int64) string {
	raw, _ := json.Marshal([2]int64{seqNo, primaryTerm})
	return base64.StdEncoding.EncodeToString(raw)
}

// EncodeDoc builds the version token of a raw document.
func EncodeDoc(doc *domain.RawDoc) string {
	return Encode(doc.SeqNo, doc.PrimaryTerm)
}

// Decode reverses Encode. Malformed tokens fail as bad requests: a garbage
// version must be rejected before any store call.
func Decode(version string) (seqNo, primaryTerm int64, err error) {
	raw, decErr := base64.StdEncoding.DecodeString(version)
	if decErr != nil {
		return 0, 0, soerror.NewBadRequestf("invalid version %q", version)
	}
	var pair [2]int64
	if err := json.Unmarshal(raw, &pair); err != nil {
		return 0, 0, soerror.NewBadRequestf("invalid version %q", version)
	}
	if pair[0] < 0 || pair[1] < 0 {
		return 0, 0, soerror.NewBadRequestf("invalid version %q", version)
	}
	return pair[0], pair[1], nil
}
