//go:build !linux

package poller

// NewDefault 在非 Linux 平台不可用。
func NewDefault(kind Kind) (Poller, error) {
	return nil, ErrPlatformNotSupported
}
