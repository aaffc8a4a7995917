package cameraframework

import (
	"context"
	"errors"
)

// ErrStopConsuming may be returned by a Consume callback to end the loop
// without an error.
var ErrStopConsuming = errors.New("camera-framework: stop consuming")

// Consume hands every sample popped from q to fn, blocking while q is empty.
//
// Returns nil when ctx ends, when q is closed and drained, or when fn returns
// ErrStopConsuming. Any other error from fn is returned as is.
func Consume(ctx context.Context, q *Queue, fn func(Sample) error) error {
	for {
		s, ok := q.PopWait(ctx)
		if !ok {
			return nil
		}
		if err := fn(s); err != nil {
			if errors.Is(err, ErrStopConsuming) {
				return nil
			}
			return err
		}
	}
}
