// Package llm defines the text processor contract used by the task core:
// request shapes and validation, prompt construction, input preprocessing and
// a degrading wrapper that swaps in simulated output when a provider fails.
// Provider adapters live in subpackages.
package llm
