// Package sharded provides string-keyed sets and maps split into
// independently locked shards, so many goroutines can record keys without
// contending on one mutex.
package sharded

import "hash/fnv"

// DefaultShards is a good fit for a few thousand keys written by a worker pool.
const DefaultShards = 64

// getShardIndex calculates the shard index for a given key using FNV-1a.
// numShards must be a power of 2 for the bitwise AND to act as a modulus.
func getShardIndex(key string, numShards int) int {
	h := fnv.New32a()
	// Write never returns an error for FNV-1a.
	h.Write([]byte(key))
	return int(h.Sum32() & uint32(numShards-1))
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
