package stoporder

import "time"

// Clock supplies the current timestamp for expiry checks and status
// transitions. Production deployments use the wall clock; a block-time driven
// deployment or a test supplies its own implementation via WithClock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
