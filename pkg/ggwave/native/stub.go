//go:build !(cgo && ggwave)

package native

import "github.com/MrWong99/ggwave-go/pkg/ggwave"

// Available reports whether the binary was built against libggwave.
func Available() bool { return false }

// New reports ErrUnavailable in builds without the ggwave tag.
func New() (ggwave.Engine, error) { return nil, ErrUnavailable }
