// Package hexid produces short random identifiers, used to correlate log
// files and fan-out subscriptions.
package hexid

import (
	"crypto/rand"
	"fmt"
)

// New returns four random bytes rendered as eight lowercase hex characters.
func New() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("hexid: reading random bytes: %v", err))
	}
	return fmt.Sprintf("%x", b)
}
