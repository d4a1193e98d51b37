// Package summary turns a working copy into a narrative recommendation by
// asking a generative text service, and tracks the latest request's outcome.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"wellfed/api/internal/form"
)

const persona = "You are a permaculture design assistant for 'Well Fed ʻOhana', a non-profit in Hawaiʻi focused on food sovereignty. " +
	"Based on the following site analysis data, provide a warm, encouraging, and actionable summary for the family. " +
	"The summary should: " +
	"1. Start with a positive and welcoming message, acknowledging the ʻohana's vision. " +
	"2. Briefly summarize the key findings from the site analysis (sun, water, soil). " +
	"3. Provide 3-5 clear, actionable recommendations for creating a thriving garden based on their choices and site conditions. " +
	"4. Maintain a collaborative and culturally sensitive tone, using Hawaiian terms like ʻohana (family), ʻāina (land), and kuleana (responsibility) where appropriate. " +
	"5. Format the output in Markdown for readability. " +
	"Here is the data: "

// EmptyResponseText is shown when the service answers without any text.
const EmptyResponseText = "Could not generate a summary. The response from the AI was empty."

type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is the observable state of the most recent request.
type Result struct {
	Status    Status    `json:"status"`
	Text      string    `json:"text,omitempty"`
	Error     string    `json:"error,omitempty"`
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Generator is the generative text collaborator.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Requester struct {
	generator Generator
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	seq    uint64
	latest Result
}

func NewRequester(generator Generator, logger *zap.Logger) *Requester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Requester{
		generator: generator,
		logger:    logger,
		now:       time.Now,
		latest:    Result{Status: StatusIdle},
	}
}

// BuildPrompt renders the fixed instructions followed by the working copy as
// indented JSON with sorted keys.
func BuildPrompt(wc form.WorkingCopy) (string, error) {
	data, err := json.MarshalIndent(wc.Encode(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode form data: %w", err)
	}
	return persona + string(data), nil
}

// Generate runs one request and returns its result. Calls are not
// deduplicated or cancelled; the observable state only moves forward, so a
// slow older call never replaces a newer one.
func (r *Requester) Generate(ctx context.Context, wc form.WorkingCopy) Result {
	return r.finish(ctx, wc, r.begin())
}

// Start begins a request in the background and returns its sequence number.
// The request is already pending in Latest when Start returns.
func (r *Requester) Start(ctx context.Context, wc form.WorkingCopy) uint64 {
	seq := r.begin()
	go r.finish(ctx, wc, seq)
	return seq
}

func (r *Requester) begin() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.latest = Result{Status: StatusPending, Seq: r.seq, UpdatedAt: r.now()}
	return r.seq
}

func (r *Requester) finish(ctx context.Context, wc form.WorkingCopy, seq uint64) Result {
	result := r.run(ctx, wc)
	result.Seq = seq
	result.UpdatedAt = r.now()

	r.mu.Lock()
	if seq == r.seq {
		r.latest = result
	}
	r.mu.Unlock()
	return result
}

func (r *Requester) run(ctx context.Context, wc form.WorkingCopy) Result {
	prompt, err := BuildPrompt(wc)
	if err != nil {
		return r.failed(err)
	}
	text, err := r.generator.Generate(ctx, prompt)
	if err != nil {
		return r.failed(err)
	}
	if text == "" {
		r.logger.Warn("summary response was empty")
		return Result{Status: StatusSuccess, Text: EmptyResponseText}
	}
	return Result{Status: StatusSuccess, Text: text}
}

func (r *Requester) failed(err error) Result {
	r.logger.Error("summary generation failed", zap.Error(err))
	return Result{
		Status: StatusError,
		Error:  fmt.Sprintf("An error occurred while generating the summary: %s. Please try again later.", err.Error()),
	}
}

// Latest returns the state of the newest request.
func (r *Requester) Latest() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}
