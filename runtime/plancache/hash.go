package plancache

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// NormalizeQuery applies the fixed trim+lowercase normalization shared by
// the exact hash and the similarity embedding, keeping both lookup paths
// consistent.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// HashQuery returns the hex MD5 of the normalized query.
func HashQuery(q string) string {
	sum := md5.Sum([]byte(NormalizeQuery(q)))
	return hex.EncodeToString(sum[:])
}
