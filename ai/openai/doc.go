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


// Package openai talks to OpenAI-compatible HTTP APIs through langchaingo.
//
// Embeddings and answers are configured separately: a typical setup embeds
// with a local Ollama server and answers with Groq.
//
//	cfg := ai.NewConfig(
//	    ai.WithEmbeddingHost("http://localhost:11434"),
//	    ai.WithAPIKey(os.Getenv("GROQ_API_KEY")),
//	)
//	provider, err := openai.NewProvider(cfg)
//
// Hosts without a /v1 suffix get one appended during config validation.
// Embedding batches are retried with backoff and generation requests are
// throttled by a token bucket when RequestsPerSecond is set.
package openai
