//go:build !windows

package collector

import "context"

func verifySignature(context.Context, string) (bool, error) {
	return false, ErrSignatureUnsupported
}
