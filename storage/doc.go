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


// Package storage provides the storage abstraction layer for ragchat.
//
// This package defines the VectorIndex interface that decouples the
// vector store from the concrete persistence backend. The BadgerDB
// implementation lives in storage/badger; the audit log uses SQLite and
// lives in storage/sqlite.
//
// # Usage
//
// Create an index backed by a directory:
//
//	backend, err := badger.OpenBackend("/path/to/index", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	index, err := badger.NewIndexRepository(backend)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer index.Close()
//
// Use in tests with in-memory storage:
//
//	index, backend, err := badger.NewMemoryIndex()
//
// # Thread Safety
//
// All index implementations must be thread-safe. Add, delete and clear
// are serialised; similarity queries share a read lock and observe either
// the state before or after any mutation, never a partial one.
//
// # Serialization
//
// Entries are encoded with the MUS format (core.IndexEntryMUS) via
// MarshalEntry and UnmarshalEntry.
package storage
