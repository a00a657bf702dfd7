/*
	Package r3log wires R3's components to log15.Logger the same way
	rio/transmat/impl/tar/tar_transmat.go and
	rio/transmat/impl/git/git_internals.go do: a Logger is threaded
	through constructors as an explicit parameter, never reached for as
	a global, and call sites log a short message followed by structured
	key/value pairs rather than formatted strings.
*/
package r3log

import (
	"os"

	"github.com/inconshreveable/log15"
)

// New returns a logger with a "component" field set, writing to stderr at
// the given level. r3.Open builds one root logger per repository handle
// and passes a scoped child (via the logger's New) into each package that
// needs to log.
func New(component string, verbose bool) log15.Logger {
	lvl := log15.LvlInfo
	if verbose {
		lvl = log15.LvlDebug
	}
	log := log15.New("component", component)
	log.SetHandler(log15.LvlFilterHandler(lvl, log15.StreamHandler(os.Stderr, log15.TerminalFormat())))
	return log
}

// Discard returns a logger that drops everything, for tests and library
// callers that don't want R3's internals writing to stderr.
func Discard() log15.Logger {
	log := log15.New()
	log.SetHandler(log15.DiscardHandler())
	return log
}
