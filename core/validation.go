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

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MinChunkLength is the trimmed length a chunk must exceed to be stored.
const MinChunkLength = 50

// ValidateChunkText validates chunk text according to domain rules.
//
// Validation rules:
//   - Trimmed text must be longer than MinChunkLength characters
func ValidateChunkText(text string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	if n <= MinChunkLength {
		return fmt.Errorf("%w: %w: %d characters", ErrInvalidChunk, ErrChunkTooShort, n)
	}
	return nil
}

// ValidateMetadata validates chunk metadata.
//
// Validation rules:
//   - Source must not be empty
//
// NOT validated:
//   - Owner (empty means the document has no owning session)
func ValidateMetadata(meta ChunkMetadata) error {
	if strings.TrimSpace(meta.Source) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptySource)
	}
	return nil
}

// ValidateQuestion rejects empty and whitespace-only questions.
func ValidateQuestion(question string) error {
	if strings.TrimSpace(question) == "" {
		return ErrEmptyQuestion
	}
	return nil
}
