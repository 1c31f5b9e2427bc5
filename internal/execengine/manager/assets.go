package manager

import _ "embed"

// interpreterServerSource is staged into every interactive-language
// sandbox's scratch directory as its launch command. It is treated as
// opaque by everything on the Go side of the stdio boundary.
//
//go:embed assets/interpreter_server.py
var interpreterServerSource []byte
