package base

import "github.com/oakhollow/txpool/common"

// Hash and keyOf are local, unqualified aliases for the common package's
// primitives, used throughout this package to keep the dependency-graph
// code readable.
type Hash = common.Hash
type TagKey = common.TagKey

func keyOf(t common.Tag) TagKey { return common.KeyOf(t) }

func removeHash(hashes []Hash, target Hash) []Hash {
	for i, h := range hashes {
		if h == target {
			hashes[i] = hashes[len(hashes)-1]
			return hashes[:len(hashes)-1]
		}
	}
	return hashes
}

func appendUniqueHash(hashes []Hash, h Hash) []Hash {
	for _, existing := range hashes {
		if existing == h {
			return hashes
		}
	}
	return append(hashes, h)
}
