/*
	Package r3 is the public API of a content-addressed repository for
	reproducible research artifacts. A job is a directory of payload
	files plus a manifest (r3.yaml) naming its dependencies on other
	jobs and on pinned git commits; its identifier is a SHA-256 digest
	over that content, so two jobs with the same identifier are
	guaranteed to check out identically.

	Repository ties together the on-disk store (internal/store), the
	git dependency cache (internal/gitcache), the metadata index
	(internal/metaindex), and the checkout engine (internal/checkout)
	behind the operations described in cmd/r3: init, commit, checkout,
	remove, pull, and rebuild-index.

	Grounded on the root repeatr.go / cli package split, which keeps
	the CLI a thin wrapper around a library API that's just as usable
	when imported directly.
*/
package r3
