// Package expertloop implements the multi-expert orchestration engine:
// routing user requests to specialized experts, running a per-turn
// tool-execution loop against a model collaborator, enforcing filesystem
// and command sandboxing, and streaming structured step events to
// consumers through a backpressured bridge.
//
// The package is transport-agnostic. The HTTP layer in package httpapi
// and the CLI in cmd/conductor both drive the same Engine.
package expertloop
