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


// Package ai provides abstractions for the AI services used by ragchat.
//
// The package defines the two model boundaries of the retrieval pipeline:
//
//   - Embedder: turns chunk and question text into vectors
//   - Generator: turns an assembled prompt into an answer
//   - AIProvider: aggregates both for convenient initialization
//
// # Implementation Packages
//
//   - ai/openai: OpenAI-compatible APIs via langchaingo (Ollama, Groq, ...)
//   - ai/mock: test doubles for unit testing without external dependencies
//
// # Constructor Return Type Pattern
//
// Public constructors (openai.NewProvider, openai.NewEmbedder, ...) return
// interface types. Test constructors (mock.NewMockEmbedder,
// mock.NewMockGenerator) return concrete types so tests can inject
// behaviour and read call counts.
//
// # Usage Example
//
//	config := ai.NewConfig(ai.WithAPIKey(os.Getenv("GROQ_API_KEY")))
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vec, err := provider.Embedder().EmbedText(ctx, "Hello world")
//	answer, err := provider.Generator().Generate(ctx, prompt, ai.GenerateOptions{
//	    MaxTokens:   config.MaxTokens,
//	    Temperature: config.Temperature,
//	})
//
// The package also carries two helpers shared by the adapters:
// RetryWithBackoff for transient embedding failures and NormalizeVector.
package ai
