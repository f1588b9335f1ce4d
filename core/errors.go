// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import "errors"

// Pipeline errors. Callers match these with errors.Is; concrete causes
// are wrapped alongside them.
var (
	// ErrInvalidConfiguration indicates bad chunking or service parameters.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrEmptyQuestion indicates a chat question that is empty or whitespace.
	ErrEmptyQuestion = errors.New("question cannot be empty")

	// ErrUnsupportedFormat indicates a document type that cannot be extracted.
	ErrUnsupportedFormat = errors.New("unsupported file type")

	// ErrExtractionFailed indicates a supported document that could not be read.
	ErrExtractionFailed = errors.New("text extraction failed")

	// ErrStoreUnavailable indicates an embedding or index backend failure.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrTimeout indicates an embedding or generation call exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrGenerationFailed indicates the answer could not be produced.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrNotFound indicates a document that does not exist.
	ErrNotFound = errors.New("not found")
)

// Domain validation errors
var (
	// ErrInvalidChunk indicates a chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrChunkTooShort indicates chunk text at or below the length floor.
	ErrChunkTooShort = errors.New("chunk text too short")

	// ErrEmptySource indicates metadata without a source filename.
	ErrEmptySource = errors.New("source cannot be empty")
)
