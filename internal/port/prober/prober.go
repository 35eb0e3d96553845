// Package prober defines the port for reading media metadata.
package prober

import "context"

// Prober reads the duration of a media file in seconds.
type Prober interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
}
