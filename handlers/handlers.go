// Package handlers provides the built-in step handlers bundled with the
// command line tool. Application embedders typically register their own
// handlers instead.
package handlers

import (
	"github.com/complyflow/orchestrator"
)

// Builtins returns every built-in handler keyed by name.
func Builtins() orchestrator.HandlerRegistry {
	registry := orchestrator.HandlerRegistry{}
	for _, handler := range []orchestrator.StepHandler{
		NewPrintHandler(),
		NewScriptHandler(),
		NewTimeHandler(),
		NewWaitHandler(),
		NewFailHandler(),
	} {
		registry[handler.Name()] = handler
	}
	return registry
}
