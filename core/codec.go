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
	"errors"
	"math"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
)

// ErrMalformedEntry is returned when encoded entry data is inconsistent.
var ErrMalformedEntry = errors.New("malformed index entry")

// IndexEntryMUS is the MUS serializer for IndexEntry.
//
// Layout: seq, id, text, source, owner, vector length, vector components
// (IEEE-754 bits as varints), inserted-at in Unix nanoseconds.
var IndexEntryMUS = indexEntryMUS{}

type indexEntryMUS struct{}

func (s indexEntryMUS) Marshal(v IndexEntry, bs []byte) (n int) {
	n = varint.Uint64.Marshal(v.Seq, bs)
	n += ord.String.Marshal(v.ID, bs[n:])
	n += ord.String.Marshal(v.Text, bs[n:])
	n += ord.String.Marshal(v.Source, bs[n:])
	n += ord.String.Marshal(v.Owner, bs[n:])
	n += varint.Int.Marshal(len(v.Vector), bs[n:])
	for _, f := range v.Vector {
		n += varint.Uint32.Marshal(math.Float32bits(f), bs[n:])
	}
	n += varint.Int64.Marshal(insertedAtNanos(v.InsertedAt), bs[n:])
	return
}

func (s indexEntryMUS) Unmarshal(bs []byte) (v IndexEntry, n int, err error) {
	v.Seq, n, err = varint.Uint64.Unmarshal(bs)
	if err != nil {
		return
	}
	var n1 int
	if v.ID, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Text, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Source, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Owner, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	var length int
	if length, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if length < 0 || length > len(bs)-n {
		err = ErrMalformedEntry
		return
	}
	if length > 0 {
		v.Vector = make([]float32, length)
		var bits uint32
		for i := range v.Vector {
			if bits, n1, err = varint.Uint32.Unmarshal(bs[n:]); err != nil {
				return
			}
			n += n1
			v.Vector[i] = math.Float32frombits(bits)
		}
	}
	var nanos int64
	if nanos, n1, err = varint.Int64.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if nanos != 0 {
		v.InsertedAt = time.Unix(0, nanos).UTC()
	}
	return
}

func (s indexEntryMUS) Size(v IndexEntry) (size int) {
	size = varint.Uint64.Size(v.Seq)
	size += ord.String.Size(v.ID)
	size += ord.String.Size(v.Text)
	size += ord.String.Size(v.Source)
	size += ord.String.Size(v.Owner)
	size += varint.Int.Size(len(v.Vector))
	for _, f := range v.Vector {
		size += varint.Uint32.Size(math.Float32bits(f))
	}
	return size + varint.Int64.Size(insertedAtNanos(v.InsertedAt))
}

func (s indexEntryMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

func insertedAtNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
