package util

import (
	"os"

	"github.com/hashicorp/go-hclog"
)

// NewLogger makes a stderr logger at Debug level when verbose and
// Info otherwise.
func NewLogger(name string, verbose bool) hclog.Logger {
	level := hclog.Info
	if verbose {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   name,
		Level:  level,
		Output: os.Stderr,
	})
}
