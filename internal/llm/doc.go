// Package llm provides the language model clients and the Selector that
// chooses between them.
//
// The primary tier is a hosted Gemini model reached through the genai SDK.
// The fallback tier is a local Ollama model.
// Selector tries the primary once and, on any failure (error, exhausted
// quota, empty or non-JSON output), makes exactly one fallback call.
package llm
