// Package broadcast delivers one weather message to every eligible subscriber.
//
// A run pages through the store, fans recipients out to a bounded worker pool
// and paces sends with a token bucket. A recipient's failure (provider or
// send) is logged and counted; it never stops the run. There is no retry
// inside a run: the next scheduled run is the retry.
package broadcast
