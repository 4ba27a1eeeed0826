package clip

import "fmt"

// headlessBackend stands in when no display server is reachable (headless
// Linux servers, containers). It never produces Watch events and reports
// every access as denied.
type headlessBackend struct {
	reason  string
	watchCh chan struct{}
}

func newHeadless(reason string) *headlessBackend {
	return &headlessBackend{reason: reason, watchCh: make(chan struct{})}
}

func (b *headlessBackend) Name() string { return "headless (no-op)" }

func (b *headlessBackend) Read() (string, error) {
	return "", fmt.Errorf("%w: %s", ErrPermissionDenied, b.reason)
}

func (b *headlessBackend) Write(_ string) error {
	return fmt.Errorf("%w: %s", ErrPermissionDenied, b.reason)
}

func (b *headlessBackend) Watch() <-chan struct{} { return b.watchCh }
func (b *headlessBackend) Close()                 {}
