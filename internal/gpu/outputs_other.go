//go:build !windows

package gpu

// ListOutputs reports the single virtual output the software backend
// renders fullscreen content into.
func ListOutputs() ([]Output, error) {
	return []Output{SoftwareOutput}, nil
}
