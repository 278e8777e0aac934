package btserial

import _ "embed"

// DefaultFrameScript is the newline framing script used by `monitor --script` when no file is given.
//
//go:embed scripts/frame.lua
var DefaultFrameScript string
