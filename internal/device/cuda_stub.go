//go:build !cuda

package device

// NewCUDARuntime always fails without the cuda build tag.
func NewCUDARuntime() (Runtime, error) {
	return nil, ErrNotAvailable
}
