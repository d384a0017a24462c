package abuse

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint derives a stable device fingerprint from the request headers
// that survive NAT and IP rotation. Same header triple, same fingerprint.
func Fingerprint(userAgent, acceptLanguage, acceptEncoding string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(userAgent))
	h.Write([]byte{0})
	h.Write([]byte(acceptLanguage))
	h.Write([]byte{0})
	h.Write([]byte(acceptEncoding))
	return hex.EncodeToString(h.Sum(nil)[:16])
}
