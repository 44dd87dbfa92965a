// Package native binds the ggwave C library.
//
// The binding is only compiled with cgo enabled and the ggwave build tag:
//
//	go build -tags ggwave ./...
//
// Other builds get a stub whose [New] returns [ErrUnavailable], so the rest
// of the module (and its tests, which use the mock engine) builds without
// libggwave installed.
package native

import "errors"

// ErrUnavailable is returned by New when libggwave is not linked in.
var ErrUnavailable = errors.New("native: built without libggwave (use -tags ggwave)")
