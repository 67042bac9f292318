package catalog

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash computes a stable digest over a descriptor set. The agent reports it
// with every heartbeat so the server can detect a stale catalog without
// receiving the full list each time.
func Hash(descriptors []Descriptor) string {
	sorted := make([]Descriptor, len(descriptors))
	copy(sorted, descriptors)
	SortDescriptors(sorted)

	h := sha256.New()
	for _, d := range sorted {
		h.Write([]byte(d.Name))
		h.Write([]byte{0})
		h.Write([]byte(d.Help))
		h.Write([]byte{0})
		h.Write([]byte(d.ArgsHint))
		h.Write([]byte{0xff})
	}
	return hex.EncodeToString(h.Sum(nil))
}
