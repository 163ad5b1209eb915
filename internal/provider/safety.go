package provider

import (
	"context"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/metapharm/rxgate/internal/domain/patient"
)

// InteractionClient queries the drug-drug interaction knowledge base.
type InteractionClient struct {
	api     *apiClient
	breaker *gobreaker.CircuitBreaker[[]InteractionConcern]
}

func NewInteractionClient(opts Options, log *zap.Logger) *InteractionClient {
	opts = opts.withDefaults()
	return &InteractionClient{
		api:     newAPIClient(opts, log),
		breaker: gobreaker.NewCircuitBreaker[[]InteractionConcern](newBreakerSettings("interaction", opts, log)),
	}
}

type interactionRequest struct {
	Medications []string `json:"medications"`
}

type interactionResponse struct {
	Interactions []InteractionConcern `json:"interactions"`
}

func (c *InteractionClient) Check(ctx context.Context, medications []string) ([]InteractionConcern, error) {
	return c.breaker.Execute(func() ([]InteractionConcern, error) {
		var out interactionResponse
		if err := c.api.postJSON(ctx, "/v1/interactions", interactionRequest{Medications: medications}, &out); err != nil {
			return nil, err
		}
		return out.Interactions, nil
	})
}

// AllergyClient matches prescribed medications against recorded allergies.
type AllergyClient struct {
	api     *apiClient
	breaker *gobreaker.CircuitBreaker[[]AllergyMatch]
}

func NewAllergyClient(opts Options, log *zap.Logger) *AllergyClient {
	opts = opts.withDefaults()
	return &AllergyClient{
		api:     newAPIClient(opts, log),
		breaker: gobreaker.NewCircuitBreaker[[]AllergyMatch](newBreakerSettings("allergy", opts, log)),
	}
}

type allergyRequest struct {
	Medications []string          `json:"medications"`
	Allergies   []patient.Allergy `json:"allergies"`
}

type allergyResponse struct {
	Matches []AllergyMatch `json:"matches"`
}

func (c *AllergyClient) Check(ctx context.Context, medications []string, allergies []patient.Allergy) ([]AllergyMatch, error) {
	return c.breaker.Execute(func() ([]AllergyMatch, error) {
		var out allergyResponse
		if err := c.api.postJSON(ctx, "/v1/allergy-checks", allergyRequest{Medications: medications, Allergies: allergies}, &out); err != nil {
			return nil, err
		}
		return out.Matches, nil
	})
}

// ContraindicationClient screens medications against patient conditions.
type ContraindicationClient struct {
	api     *apiClient
	breaker *gobreaker.CircuitBreaker[[]ContraindicationConcern]
}

func NewContraindicationClient(opts Options, log *zap.Logger) *ContraindicationClient {
	opts = opts.withDefaults()
	return &ContraindicationClient{
		api:     newAPIClient(opts, log),
		breaker: gobreaker.NewCircuitBreaker[[]ContraindicationConcern](newBreakerSettings("contraindication", opts, log)),
	}
}

type contraindicationRequest struct {
	Medications []string `json:"medications"`
	Conditions  []string `json:"conditions"`
	Pregnant    bool     `json:"pregnant"`
}

type contraindicationResponse struct {
	Contraindications []ContraindicationConcern `json:"contraindications"`
}

func (c *ContraindicationClient) Check(ctx context.Context, medications []string, conditions []string, pregnant bool) ([]ContraindicationConcern, error) {
	return c.breaker.Execute(func() ([]ContraindicationConcern, error) {
		var out contraindicationResponse
		req := contraindicationRequest{Medications: medications, Conditions: conditions, Pregnant: pregnant}
		if err := c.api.postJSON(ctx, "/v1/contraindication-checks", req, &out); err != nil {
			return nil, err
		}
		return out.Contraindications, nil
	})
}
