// Package core is the orchestration layer.  It owns the Registry that
// holds the live transports and the terminal mode that drives them from
// stdin and stdout.
//
// Architecture layers (bottom → top):
//
//	pubsub  →  session  →  transport  →  core  →  cmd (CLI)
package core

import "context"

// Mode is a complete operational mode of falcon.  It owns its full
// lifecycle from opening transports to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
