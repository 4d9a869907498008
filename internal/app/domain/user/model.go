// Package user holds the directory user type consumed by the credit layer.
package user

import "time"

// User is a row in the user directory. The directory is owned by the
// perimeter service; the credit layer only resolves emails to IDs.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}
