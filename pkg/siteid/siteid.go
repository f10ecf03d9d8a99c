// Package siteid implements the total order over replica site
// identifiers used to break version ties during merge.
package siteid

import "bytes"

// Compare returns -1, 0, or +1 for a lexicographic comparison of two
// site-id blobs. When one is a proper prefix of the other, the shorter
// blob compares less. Equal site ids mean the two values identify the
// same replica — a self-merge protocol violation one level up.
func Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// Equal reports whether two site ids identify the same replica.
func Equal(a, b []byte) bool {
	return bytes.Equal(a, b)
}
