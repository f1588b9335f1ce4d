package badger

import (
	"bytes"
	"encoding/binary"
)

// Key prefixes for different data types. Every prefix ends in ':' so that
// no prefix is a prefix of another.
const (
	entryPrefix  = "ent:"
	sourcePrefix = "src:"
	entrySeq     = "seq:entry"
)

// sourceTerminator separates the source name from the sequence number in
// source index keys. Source names must not contain it.
const sourceTerminator = 0x00

// makeEntryKey generates a key for an index entry by sequence number.
// Format: prefix + BigEndian(seq)
func makeEntryKey(seq uint64) []byte {
	buf := make([]byte, len(entryPrefix)+8)
	offset := copy(buf, entryPrefix)
	// BigEndian keeps lexicographic order equal to insertion order
	binary.BigEndian.PutUint64(buf[offset:], seq)
	return buf
}

// makeSourceKey generates a composite key for the source index.
// Format: prefix + source + 0x00 + BigEndian(seq)
func makeSourceKey(source string, seq uint64) []byte {
	buf := make([]byte, len(sourcePrefix)+len(source)+1+8)
	offset := copy(buf, sourcePrefix)
	offset += copy(buf[offset:], source)
	buf[offset] = sourceTerminator
	offset++
	binary.BigEndian.PutUint64(buf[offset:], seq)
	return buf
}

// makePartialSourceKey generates the iteration prefix for one source.
// Format: prefix + source + 0x00
func makePartialSourceKey(source string) []byte {
	buf := make([]byte, len(sourcePrefix)+len(source)+1)
	offset := copy(buf, sourcePrefix)
	copy(buf[offset:], source)
	buf[len(buf)-1] = sourceTerminator
	return buf
}

// parseSourceKey extracts the source name and sequence number from a
// source index key. ok is false for malformed keys.
func parseSourceKey(key []byte) (source string, seq uint64, ok bool) {
	if !bytes.HasPrefix(key, []byte(sourcePrefix)) || len(key) < len(sourcePrefix)+9 {
		return "", 0, false
	}
	rest := key[len(sourcePrefix):]
	term := len(rest) - 9
	if rest[term] != sourceTerminator {
		return "", 0, false
	}
	return string(rest[:term]), binary.BigEndian.Uint64(rest[term+1:]), true
}
