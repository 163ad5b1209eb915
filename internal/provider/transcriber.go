package provider

import (
	"context"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// OCRClient talks to the AI transcription service.
type OCRClient struct {
	api     *apiClient
	breaker *gobreaker.CircuitBreaker[*Transcript]
}

func NewOCRClient(opts Options, log *zap.Logger) *OCRClient {
	opts = opts.withDefaults()
	return &OCRClient{
		api:     newAPIClient(opts, log),
		breaker: gobreaker.NewCircuitBreaker[*Transcript](newBreakerSettings("ocr", opts, log)),
	}
}

type transcribeRequest struct {
	ImageRef string `json:"image_ref"`
}

func (c *OCRClient) Transcribe(ctx context.Context, imageRef string) (*Transcript, error) {
	return c.breaker.Execute(func() (*Transcript, error) {
		var out Transcript
		if err := c.api.postJSON(ctx, "/v1/transcriptions", transcribeRequest{ImageRef: imageRef}, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}
