// Package service implements the billing operations on top of the account
// resolver, the billing provider and the local mirror stores: customer
// mirroring, payment methods, one-off charges, product sync and the
// subscription lifecycle.
package service

import (
	"context"
	"strconv"
	"time"

	"github.com/blackspot/multistripe/billing"
	"github.com/blackspot/multistripe/domain"
	"github.com/blackspot/multistripe/telemetry"
)

// ProviderSource yields a billing provider for a resolved integration.
// *billing.Registry satisfies it; tests substitute a static source.
type ProviderSource interface {
	ProviderFor(ctx context.Context, integrationID int64) (billing.Provider, error)
}

var _ ProviderSource = (*billing.Registry)(nil)

// metadata keys injected into remote payloads for traceability.
const (
	metaIntegrationID   = "service_integration_id"
	metaIntegrationType = "service_integration_type"
	metaOwnerID         = "owner_id"
	metaOwnerType       = "owner_type"
	metaProductID       = "product_id"
	metaProductType     = "product_type"
	metaModelID         = "model_id"
	metaModelType       = "model_type"
)

const productModelType = "stripe_products"

func integrationLabel(id int64) string {
	return strconv.FormatInt(id, 10)
}

// observeLatency times a remote provider call:
//
//	defer observeLatency(s.metrics, si.ID, "create_customer")()
func observeLatency(m *telemetry.Metrics, integrationID int64, operation string) func() {
	start := time.Now()
	return func() {
		m.ProviderAPILatency.
			WithLabelValues(integrationLabel(integrationID), operation).
			Observe(time.Since(start).Seconds())
	}
}

// withIntegrationMeta copies the metadata map and adds the integration refs.
// The input map is never mutated.
func withIntegrationMeta(meta map[string]string, si *domain.ServiceIntegration) map[string]string {
	out := make(map[string]string, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	out[metaIntegrationID] = integrationLabel(si.ID)
	out[metaIntegrationType] = si.Name
	return out
}
