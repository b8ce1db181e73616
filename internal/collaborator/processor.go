// Package collaborator calls the external services that perform the
// extraction, generation and submission phases of an item.
package collaborator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/outreach/internal/config"
	"github.com/timmy/outreach/internal/domain"
)

// Result is the outcome a collaborator reports for one item phase.
type Result struct {
	RawStatus string
	Error     string
}

// Processor performs one phase for one item.
type Processor interface {
	Process(ctx context.Context, item *domain.Item) (Result, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, item *domain.Item) (Result, error)

// Process calls f(ctx, item).
func (f ProcessorFunc) Process(ctx context.Context, item *domain.Item) (Result, error) {
	return f(ctx, item)
}

// Set maps each phase to the processor that performs it.
type Set map[domain.Phase]Processor

// NewHTTPSet builds HTTP processors for all three phases from configuration.
func NewHTTPSet(cfg config.CollaboratorsConfig, timeout time.Duration) Set {
	return Set{
		domain.PhaseExtraction: NewHTTPProcessor(domain.PhaseExtraction, cfg.Scraper, timeout),
		domain.PhaseGeneration: NewHTTPProcessor(domain.PhaseGeneration, cfg.Generator, timeout),
		domain.PhaseSubmission: NewHTTPProcessor(domain.PhaseSubmission, cfg.Submitter, timeout),
	}
}

// HTTPProcessor posts items to a collaborator's JSON endpoint.
type HTTPProcessor struct {
	client   *resty.Client
	phase    domain.Phase
	endpoint string
}

// NewHTTPProcessor creates a processor for one phase.
// Parameters:
//   - phase: phase the collaborator performs.
//   - cfg: base URL, path and API key of the collaborator.
//   - timeout: upper bound for a single HTTP exchange; zero keeps resty's default.
//
// Returns:
//   - *HTTPProcessor: ready-to-use processor.
func NewHTTPProcessor(phase domain.Phase, cfg config.CollaboratorConfig, timeout time.Duration) *HTTPProcessor {
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	if timeout > 0 {
		client.SetTimeout(timeout)
	}

	return &HTTPProcessor{
		client:   client,
		phase:    phase,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + cfg.Path,
	}
}

type processRequest struct {
	ItemID    string `json:"item_id"`
	UploadID  string `json:"upload_id"`
	ChunkID   string `json:"chunk_id"`
	Phase     string `json:"phase"`
	TargetURL string `json:"target_url"`
}

type processResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Process sends the item to the collaborator and returns the raw status it reports.
// Parameters:
//   - ctx: per-attempt context; its deadline bounds the request.
//   - item: item to process.
//
// Returns:
//   - Result: raw status and optional error text from the collaborator.
//   - error: *Error classified as transient, rejected or unreachable.
func (p *HTTPProcessor) Process(ctx context.Context, item *domain.Item) (Result, error) {
	req := processRequest{
		ItemID:    item.ID,
		UploadID:  item.UploadID,
		ChunkID:   item.ChunkID,
		Phase:     string(p.phase),
		TargetURL: item.TargetURL,
	}

	var resp processResponse
	httpResp, err := p.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(p.endpoint)
	if err != nil {
		return Result{}, &Error{
			Kind:    classifyTransport(err),
			Phase:   p.phase,
			Message: "request failed",
			Cause:   err,
		}
	}

	if httpResp.IsError() {
		msg := resp.Error
		if msg == "" {
			msg = strings.TrimSpace(string(httpResp.Body()))
		}
		return Result{}, &Error{
			Kind:    classifyStatus(httpResp.StatusCode()),
			Phase:   p.phase,
			Message: fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), msg),
		}
	}

	if resp.Status == "" {
		return Result{}, &Error{
			Kind:    KindTransient,
			Phase:   p.phase,
			Message: fmt.Sprintf("response without status (HTTP %d)", httpResp.StatusCode()),
		}
	}

	return Result{RawStatus: resp.Status, Error: resp.Error}, nil
}
