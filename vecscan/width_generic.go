// +build !amd64 appengine

package vecscan

// vectorWidthBytes is the conservative batch width used on platforms
// without the AVX probing in width_amd64.go.
func vectorWidthBytes() int {
	return 16
}
