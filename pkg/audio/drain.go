package audio

import "context"

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when the rest of a stream is no longer
// needed (e.g., after a synthesis deadline fired).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

// Collect concatenates every chunk from ch until it is closed. If ctx ends
// first, the remainder of ch is drained in the background so the producer can
// exit, and ctx.Err() is returned with the bytes gathered so far.
func Collect(ctx context.Context, ch <-chan []byte) ([]byte, error) {
	var out []byte
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return out, nil
			}
			out = append(out, chunk...)
		case <-ctx.Done():
			go Drain(ch)
			return out, ctx.Err()
		}
	}
}
