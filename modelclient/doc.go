// Package modelclient is the language-model collaborator for the
// orchestration engine. It presents one capability: given a conversation
// and a tool schema, produce either a final answer or a tool invocation.
//
// The package classifies provider failures into retryable (timeouts, rate
// limits, server errors) and permanent (auth, malformed request) classes,
// and ships a generic bounded-backoff Retry helper so callers re-attempt
// only the current model call, never tool executions.
//
// The concrete adapter speaks the OpenAI-compatible wire format, which
// also covers OpenRouter-style aggregators via a custom base URL.
package modelclient
