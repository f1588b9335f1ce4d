package core

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateChunkText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr error
	}{
		{
			name:    "long enough",
			text:    strings.Repeat("a", 51),
			wantErr: nil,
		},
		{
			name:    "exactly at floor",
			text:    strings.Repeat("a", 50),
			wantErr: ErrChunkTooShort,
		},
		{
			name:    "padded short text",
			text:    "   " + strings.Repeat("b", 40) + "\n\n\t",
			wantErr: ErrChunkTooShort,
		},
		{
			name:    "whitespace only",
			text:    "   \n\t  ",
			wantErr: ErrInvalidChunk,
		},
		{
			name:    "multibyte runes are counted as characters",
			text:    strings.Repeat("த", 51),
			wantErr: nil,
		},
		{
			name:    "multibyte runes below floor",
			text:    strings.Repeat("த", 30),
			wantErr: ErrChunkTooShort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChunkText(tt.text)

			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateChunkText() error = %v, want nil", err)
				}
				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateChunkText() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateMetadata(t *testing.T) {
	tests := []struct {
		name    string
		meta    ChunkMetadata
		wantErr error
	}{
		{
			name:    "source and owner",
			meta:    ChunkMetadata{Source: "a.txt", Owner: "s1"},
			wantErr: nil,
		},
		{
			name:    "source without owner",
			meta:    ChunkMetadata{Source: "a.txt"},
			wantErr: nil,
		},
		{
			name:    "empty source",
			meta:    ChunkMetadata{Owner: "s1"},
			wantErr: ErrEmptySource,
		},
		{
			name:    "blank source",
			meta:    ChunkMetadata{Source: "  "},
			wantErr: ErrEmptySource,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMetadata(tt.meta)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateMetadata() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateMetadata() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidChunk) {
				t.Errorf("ValidateMetadata() error = %v, want wrapped %v", err, ErrInvalidChunk)
			}
		})
	}
}

func TestValidateQuestion(t *testing.T) {
	for _, q := range []string{"", " ", "\n\t "} {
		if err := ValidateQuestion(q); !errors.Is(err, ErrEmptyQuestion) {
			t.Errorf("ValidateQuestion(%q) error = %v, want %v", q, err, ErrEmptyQuestion)
		}
	}
	if err := ValidateQuestion("what is in the report?"); err != nil {
		t.Errorf("ValidateQuestion() error = %v, want nil", err)
	}
}

func TestIndexEntryChunk(t *testing.T) {
	entry := &IndexEntry{Seq: 7, ID: "abc", Text: "body", Source: "a.txt", Owner: "s1"}
	got := entry.Chunk()
	want := Chunk{ID: "abc", Text: "body", Metadata: ChunkMetadata{Source: "a.txt", Owner: "s1"}}
	if got != want {
		t.Errorf("IndexEntry.Chunk() = %+v, want %+v", got, want)
	}
}
