package isolation

import (
	"coderunner/internal/execengine/security"
	"coderunner/internal/execengine/spec"
)

// initRequest is the JSON document written to the helper binary's stdin.
// Field names are PascalCase and must match cmd/sandbox-init's decoder
// exactly, since the two are separate binaries linked only by this wire
// shape.
type initRequest struct {
	RunSpec       spec.RunSpec
	Isolation     security.IsolationProfile
	EnableSeccomp bool
	EnableNs      bool
}
