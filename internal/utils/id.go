// internal/utils/id.go
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// MintID returns a fresh identifier of the form
// <prefix>_<unixnano>_<4 random hex bytes>. The timestamp keeps ids
// roughly sortable by creation time; the random suffix makes
// collisions negligible even for ids minted in the same nanosecond.
func MintID(prefix string) string {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		// crypto/rand only fails when the platform source is broken;
		// the timestamp alone still identifies the id in that case.
		return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixNano(), hex.EncodeToString(suffix))
}
