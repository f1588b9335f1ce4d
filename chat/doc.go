// Package chat answers questions from retrieved document chunks.
//
// An Orchestrator retrieves the chunks most similar to a question, numbers
// them, adds the session's recent turns and a language instruction, and
// asks the generator for an answer grounded in that context. A successful
// answer is appended to session memory; nothing is written on failure or
// when no chunks were found.
//
// Errors: an empty question is core.ErrEmptyQuestion. An expired deadline
// during retrieval or generation is core.ErrTimeout. Any other failure is
// core.ErrGenerationFailed wrapping its cause, so a store outage also
// matches core.ErrStoreUnavailable.
package chat
