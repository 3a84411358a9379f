package domain

import "time"

// Customer is the local mirror of a remote billing customer. One row per
// (owner, integration) pair; the remote object remains the source of truth
// for everything except the linkage itself.
type Customer struct {
	ID                   int64
	CustomerID           string // remote customer id (cus_...)
	ServiceIntegrationID int64
	Owner                OwnerRef // zero after the owning entity is deleted
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
