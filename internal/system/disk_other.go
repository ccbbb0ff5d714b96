//go:build !unix

package system

// AvailableSpace is not implemented on this platform.
func AvailableSpace(path string) (uint64, error) { return 0, errUnsupported }

// HasSufficientSpace always succeeds where free space cannot be queried.
func HasSufficientSpace(path string, required uint64) (bool, uint64, error) {
	return true, 0, nil
}
