// Package chunking splits extracted document text into bounded,
// overlapping segments suitable for embedding.
//
// A window of the configured size slides over the text. Windows that do
// not reach the end of the text are shortened to the last newline or
// sentence-ending period when that boundary lies past the window's
// midpoint, and the next window starts overlap characters before the cut.
// The final window always runs to the end of the text. Chunks are
// whitespace-trimmed and those at or below the length floor are dropped.
//
//	chunks, err := chunking.Split(text, 500, 50)
//
// Lengths are measured in characters (runes), not bytes.
package chunking
