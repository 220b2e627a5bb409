package accounting

import "golang.org/x/sync/singleflight"

// Guard collapses concurrent mutations that share a transfer id into one
// execution. It only covers callers in this process; the backends reject a
// second row with the same id, which makes the guarantee durable.
type Guard struct {
	group singleflight.Group
}

// Claim runs fn unless a call for key is already in flight. The caller that
// runs fn gets its result. Callers that joined an in-flight call get
// ErrTransferExists when it succeeded and its error when it failed.
func (g *Guard) Claim(key string, fn func() error) error {
	claimed := false
	_, err, _ := g.group.Do(key, func() (any, error) {
		claimed = true
		return nil, fn()
	})

	if claimed || err != nil {
		return err
	}
	return ErrTransferExists
}
