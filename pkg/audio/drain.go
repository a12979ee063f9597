package audio

// Drain reads from ch until it is closed, discarding every value. Call it
// on streaming channels nobody consumes anymore (a room input stream after
// the turn loop detached, a leftover synthesis frame channel) so the sender
// goroutine can finish.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
