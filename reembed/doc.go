// Package reembed rebuilds the vectors of every stored chunk with the
// configured embedder, for use after switching embedding models.
//
// Entries are read in sequence order in batches, embedded with retry and
// exponential backoff, normalized to unit length and written back in place.
// Chunk text, source, owner and IDs are left untouched.
package reembed
