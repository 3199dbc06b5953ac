package subfs

import "hash/fnv"

// Stable inode numbers from path-like keys so the same virtual file gets
// the same inode across lookups.
func inoFromString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
