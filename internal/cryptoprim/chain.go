package cryptoprim

import "crypto/sha256"

// ChainHash folds next into the running value prev, producing the next
// link of an integrity chain. It is used to compose the fingerprint from an
// ordered sequence of heterogeneous materials (an inter-partition gap, a
// raw private key, a partition table, a directory hash, a chunk hash): each
// step depends on every step before it, so permuting or dropping a step
// changes the final value.
func ChainHash(prev []byte, next []byte) []byte {
	nh := sha256.Sum256(next)
	h := sha256.New()
	h.Write(prev)
	h.Write(nh[:])
	return h.Sum(nil)
}

// Hash is a convenience for a single sha256 digest, used where a material
// needs folding into a chain without an existing prev value.
func Hash(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}
