package dist

import "math/rand/v2"

// Indices returns one rank's sample order for an epoch: a permutation
// of [0, n) seeded by (seed, epoch) identically on every rank, then a
// stride partition. The per-rank subsets are disjoint, cover the
// dataset exactly once, and their sizes differ by at most one.
func Indices(n, rank, world int, seed uint64, epoch int) []int {
	perm := rand.New(rand.NewPCG(seed, uint64(epoch))).Perm(n)
	var out []int
	for i := rank; i < n; i += world {
		out = append(out, perm[i])
	}
	return out
}

// RankSeed derives the per-rank RNG seed from the base seed.
func RankSeed(seed uint64, rank int) uint64 {
	return seed + uint64(rank)
}
