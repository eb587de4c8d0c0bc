package directcall

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// DeriveChannel maps an unordered address pair to a media channel name.
// Both parties compute it locally, so a 1:1 call needs no negotiation
// round-trip to agree on the transport channel: the pair is sorted
// lexicographically before hashing, making the result order-independent
// and stable.
func DeriveChannel(a, b string) string {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}

	sum := blake2b.Sum256([]byte(lo + "\x00" + hi))
	return "dc-" + hex.EncodeToString(sum[:16])
}
