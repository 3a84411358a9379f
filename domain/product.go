package domain

import "time"

// Product is the local mirror of a remote billing product. Model references
// the application entity the product was built for; ProductID and
// DefaultPriceID are filled in only after the remote create succeeds.
type Product struct {
	ID                   int64
	Name                 string
	CurrentPrice         int64 // unit amount of the default price, in minor units
	AllowRecurring       bool
	Active               bool
	Metadata             map[string]string
	ProductID            string // remote product id (prod_...), empty until synced
	DefaultPriceID       string // remote price id (price_...), empty until synced
	Model                OwnerRef
	ServiceIntegrationID int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Synced reports whether the remote product has been created for this row.
func (p *Product) Synced() bool {
	return p.ProductID != ""
}
