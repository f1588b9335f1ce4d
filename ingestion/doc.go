// Package ingestion turns uploaded documents into stored, searchable chunks.
//
// The Pipeline type manages the upload workflow:
//   - Extracting plain text from the document bytes
//   - Splitting the text into overlapping chunks
//   - Keeping an encrypted copy of the original in the vault
//   - Embedding and storing the chunks
//   - Recording an audit event
//
// IngestAll runs many documents concurrently on a worker pool. Delete and
// Clear undo ingestion for one document or for all of them.
package ingestion
