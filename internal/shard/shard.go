// Package shard provides partition key generation for the DynamoDB side tables.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
)

// IndexRef names one (kind, index, value) posting list, e.g. "travel#owner=u1".
func IndexRef(kind, index, value string) string {
	return fmt.Sprintf("%s#%s=%s", kind, index, value)
}

// IndexPK computes the sharded partition key for an index entry.
// With numShards=1, all entries of a posting list go to shard "00".
// With numShards>1, entries are distributed across shards by entityRef hash.
func IndexPK(indexRef, entityRef string, numShards int) string {
	if numShards <= 1 {
		return fmt.Sprintf("%s#00", indexRef)
	}
	h := fnv.New32a()
	h.Write([]byte(entityRef))
	shard := h.Sum32() % uint32(numShards)
	return fmt.Sprintf("%s#%02x", indexRef, shard)
}

// IndexShards returns every partition key a posting list may be spread over.
func IndexShards(indexRef string, numShards int) []string {
	if numShards < 1 {
		numShards = 1
	}
	pks := make([]string, numShards)
	for i := range pks {
		pks[i] = fmt.Sprintf("%s#%02x", indexRef, i)
	}
	return pks
}

// UniqueConstraintPK computes a hash-distributed partition key for a unique constraint.
// Each constraint lands on its own partition, so there is no hot key.
func UniqueConstraintPK(kind, field, value string) string {
	data := fmt.Sprintf("%s#%s#%s", kind, field, value)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:16])
}
