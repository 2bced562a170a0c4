package adapter

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// listingHash derives a stable listing id from the given values. Each value is
// length-prefixed, so no choice of separator inside a value can collide.
func listingHash(values ...string) string {
	h := sha256.New()
	for _, v := range values {
		h.Write([]byte(strconv.Itoa(len(v))))
		h.Write([]byte{':'})
		h.Write([]byte(v))
	}
	return hex.EncodeToString(h.Sum(nil))
}
