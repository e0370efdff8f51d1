//go:build !screen

package indicator

// NewScreen reports that screen support is not compiled in.
func NewScreen(device, fontPath string) (*Screen, error) {
	return nil, ErrScreenNotCompiled
}
