package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexEntryMUS(t *testing.T) {
	entry := IndexEntry{
		Seq:        42,
		ID:         "6f1c2c1e-0000-4000-8000-000000000001",
		Text:       "Quarterly revenue grew by twelve percent across all regions.",
		Source:     "report.pdf",
		Owner:      "session-1",
		Vector:     []float32{0.6, -0.8, 0, 1e-7},
		InsertedAt: time.Date(2025, 3, 1, 12, 30, 0, 123456789, time.UTC),
	}

	buf := make([]byte, IndexEntryMUS.Size(entry))
	n := IndexEntryMUS.Marshal(entry, buf)
	require.Equal(t, len(buf), n)

	got, read, err := IndexEntryMUS.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, n, read)
	assert.Equal(t, entry, got)

	skipped, err := IndexEntryMUS.Skip(buf)
	require.NoError(t, err)
	assert.Equal(t, n, skipped)
}

func TestIndexEntryMUS_ZeroValues(t *testing.T) {
	var entry IndexEntry
	buf := make([]byte, IndexEntryMUS.Size(entry))
	IndexEntryMUS.Marshal(entry, buf)

	got, _, err := IndexEntryMUS.Unmarshal(buf)
	require.NoError(t, err)
	assert.True(t, got.InsertedAt.IsZero())
	assert.Nil(t, got.Vector)
	assert.Empty(t, got.Source)
}

func TestIndexEntryMUS_Truncated(t *testing.T) {
	entry := IndexEntry{Seq: 1, ID: "x", Text: "some text", Source: "a.txt", Vector: []float32{1, 2, 3}}
	buf := make([]byte, IndexEntryMUS.Size(entry))
	IndexEntryMUS.Marshal(entry, buf)

	_, _, err := IndexEntryMUS.Unmarshal(buf[:len(buf)/2])
	assert.Error(t, err)
}
