// Package llm defines the provider-neutral chat contract used by the
// conversation orchestrator: messages, tool schemas, tool calls and the
// Client interface implemented by provider adapters such as llm/openai.
package llm
