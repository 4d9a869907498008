package system

import "context"

// Service represents a lifecycle-managed component. Anything the credit
// layer runs beyond request handling implements this interface so the
// manager can start and stop it deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
