package billing

import (
	"errors"

	"github.com/blackspot/multistripe/crypto"
	"github.com/blackspot/multistripe/domain"
)

// Factory builds billing providers from service integrations. It owns the
// credential payload decoding rules: which keys to read and, when an
// encryptor is configured, how to decrypt the payload first.
type Factory struct {
	enc  crypto.Encryptor
	keys domain.PayloadKeys
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithEncryptor makes the factory decrypt payloads before decoding. Pass nil
// to read payloads as plain JSON.
func WithEncryptor(enc crypto.Encryptor) FactoryOption {
	return func(f *Factory) {
		f.enc = enc
	}
}

// WithPayloadKeys overrides the credential key names looked up in the payload.
func WithPayloadKeys(keys domain.PayloadKeys) FactoryOption {
	return func(f *Factory) {
		f.keys = keys
	}
}

// NewFactory creates a provider factory.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		keys: domain.DefaultPayloadKeys(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// PayloadKeys returns the credential key names the factory reads.
func (f *Factory) PayloadKeys() domain.PayloadKeys {
	return f.keys
}

// ClientFor builds a billing provider from the integration's credential
// payload. Returns domain.ErrCredentialMissing (wrapped) when the payload
// has no secret key, and a validation error for non-Stripe integrations.
func (f *Factory) ClientFor(integration *domain.ServiceIntegration) (Provider, error) {
	const op = "billing.Factory.ClientFor"

	if integration == nil {
		return nil, &domain.Error{Code: domain.EINVALID, Message: "integration is required", Op: op}
	}
	if !integration.IsStripe() {
		return nil, &domain.Error{
			Code:    domain.EINVALID,
			Message: "integration provider is not Stripe",
			Op:      op,
			Err:     domain.ErrIntegrationProviderMismatch,
		}
	}

	cfg, err := f.ConfigFor(integration)
	if err != nil {
		return nil, err
	}
	return NewStripeProvider(cfg)
}

// TryClientFor is ClientFor except that missing or incomplete credentials
// return nil, nil instead of an error. Resolution errors other than missing
// credentials still surface.
func (f *Factory) TryClientFor(integration *domain.ServiceIntegration) (Provider, error) {
	p, err := f.ClientFor(integration)
	if err != nil {
		if errors.Is(err, domain.ErrPayloadMissing) || errors.Is(err, domain.ErrCredentialMissing) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// ConfigFor decodes the integration's payload into a StripeConfig without
// constructing a client. The webhook secret and public key are optional.
func (f *Factory) ConfigFor(integration *domain.ServiceIntegration) (StripeConfig, error) {
	const op = "billing.Factory.ConfigFor"

	payload := integration.Payload
	if f.enc != nil && len(payload) > 0 {
		plain, err := f.enc.Decrypt(payload)
		if err != nil {
			return StripeConfig{}, &domain.Error{
				Code:    domain.EINTERNAL,
				Message: "failed to decrypt integration payload",
				Op:      op,
				Err:     err,
			}
		}
		payload = plain
	}

	decoded := domain.ServiceIntegration{Payload: payload}
	creds, err := decoded.DecodeCredentials(f.keys)
	if err != nil {
		return StripeConfig{}, err
	}

	secret, err := creds.Secret()
	if err != nil {
		return StripeConfig{}, err
	}

	cfg := StripeConfig{SecretKey: secret}
	if pub, err := creds.Public(); err == nil {
		cfg.PublicKey = pub
	}
	if wh, err := creds.Webhook(); err == nil {
		cfg.WebhookSecret = wh
	}
	return cfg, nil
}
