//go:build !windows

package fixture

import "fmt"

// NewWindows is only available on Windows.
func NewWindows(opts Options) (Backend, error) {
	return nil, fmt.Errorf("%w: Windows.Graphics.Capture requires Windows", ErrUnsupported)
}
