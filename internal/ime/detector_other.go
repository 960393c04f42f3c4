//go:build !linux

package ime

import "gse/internal/logging"

// NewDetector reports ErrUnavailable: only IBus on Linux is supported.
func NewDetector(address string, logger *logging.Logger) (Detector, error) {
	return nil, ErrUnavailable
}
