package clock

import "time"

var origin = time.Now()

// fallbackNow is monotonic within the process only.
func fallbackNow() int64 {
	return int64(time.Since(origin))
}
