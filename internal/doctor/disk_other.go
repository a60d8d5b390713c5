//go:build !unix

package doctor

import "errors"

func freeDiskBytes(string) (uint64, error) {
	return 0, errors.New("free-disk check unsupported on this platform")
}
