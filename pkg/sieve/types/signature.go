package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// canonical renders an operation the same way regardless of caller,
// so Sign/Verify agree across replicas for identical (key, value)
// pairs. This is the Go analogue of original_source's
// str((key, value)).encode().
func canonical(o Operation) []byte {
	buf := make([]byte, 0, len(o.Key)+len(o.Value)+2)
	buf = append(buf, '(')
	buf = append(buf, o.Key...)
	buf = append(buf, ',')
	buf = append(buf, o.Value...)
	buf = append(buf, ')')
	return buf
}

// Sign computes the "signature" of a speculative response: SHA-256 of
// the canonical (key, value) string. There is no public-key signing
// in this protocol (spec.md §1 Non-goals) — this is a keyed hash used
// purely to detect disagreement between replicas' speculative results.
func Sign(r Operation) string {
	sum := sha256.Sum256(canonical(r))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes Sign(r) and compares it against sig.
func Verify(r Operation, sig string) bool {
	return Sign(r) == sig
}

// MangleFaulty simulates a faulty replica's speculative execution: it
// appends "FAULTY<pid>" to the operation's value before the caller
// signs it, so correct replicas agree on one signature while faulty
// ones diverge (spec.md §4.4).
func MangleFaulty(o Operation, pid int) Operation {
	mangled := append([]byte{}, o.Value...)
	mangled = append(mangled, []byte("FAULTY"+strconv.Itoa(pid))...)
	return Operation{Key: o.Key, Value: mangled}
}
