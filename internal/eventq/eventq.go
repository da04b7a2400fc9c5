// Package eventq has helpers for lossy channel delivery: sends that drop the
// value instead of blocking when the receiver lags.
package eventq

// Offer tries to send without blocking. A full or closed channel drops the
// value and reports false.
func Offer[T any](ch chan<- T, v T) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	select {
	case ch <- v:
		return true
	default:
		return false
	}
}
