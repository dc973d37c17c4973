package store

import (
	"sync/atomic"
	"time"
)

var lastTimestamp int64

// NextTimestamp returns a strictly increasing unix-nano timestamp so
// updatedAt stamps within one process never collide or go backwards.
func NextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}
