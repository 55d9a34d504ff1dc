//go:build XLA || ALL

package backends

import (
	_ "github.com/gomlx/gomlx/backends/default" // registers the XLA backend for the xla-cpu and cuda devices
)
