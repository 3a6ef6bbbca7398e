// Package copywriter generates personalized promotional message copy using
// the OpenAI API, with a static template fallback when generation is
// unavailable or fails.
package copywriter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultTimeout bounds a single completion request.
const DefaultTimeout = 20 * time.Second

const systemPrompt = "You write short, friendly promotional messages for a car garage's customers. " +
	"Keep it under 400 characters, no emojis, no links, address the customer by name when given, " +
	"and end with a clear call to action to book a visit."

// chatBackend is the minimal completion surface used by the writer. The real
// OpenAI client satisfies it through completionFunc; tests inject their own.
type chatBackend interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

type openaiBackend struct {
	client openai.Client
	model  openai.ChatModel
}

func (b *openaiBackend) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: b.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Writer produces promotional copy. If no API key is configured the Writer
// always returns the static fallback text.
type Writer struct {
	backend chatBackend
	timeout time.Duration
}

// Opts holds configuration for the Writer.
type Opts struct {
	APIKey  string
	Model   openai.ChatModel
	Timeout time.Duration
}

// Option configures the Writer.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the completion model.
func WithModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// NewWriter creates a Writer. Falls back to the OPENAI_API_KEY environment
// variable when no key is given; a Writer without a key is still usable and
// serves the static template only.
func NewWriter(opts ...Option) *Writer {
	cfg := Opts{
		Model:   openai.ChatModelGPT4oMini,
		Timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	w := &Writer{timeout: cfg.Timeout}
	if cfg.APIKey != "" {
		client := openai.NewClient(option.WithAPIKey(cfg.APIKey))
		w.backend = &openaiBackend{client: client, model: cfg.Model}
	}
	slog.Debug("copywriter.NewWriter: initialized", "generative", w.backend != nil, "timeout", cfg.Timeout)
	return w
}

// PromoCopy returns personalized promotional text for the named customer.
// offer describes the promotion (e.g. "20% off winter tyre change this week").
// Generation failures are logged and fall back to the static template, so the
// broadcast path never fails on copy generation.
func (w *Writer) PromoCopy(ctx context.Context, customerName, offer string) string {
	fallback := staticPromo(customerName, offer)
	if w.backend == nil {
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	user := fmt.Sprintf("Customer name: %s\nOffer: %s", customerName, offer)
	text, err := w.backend.Complete(ctx, systemPrompt, user)
	if err != nil {
		slog.Warn("copywriter.PromoCopy: generation failed, using fallback", "error", err)
		return fallback
	}
	text = strings.TrimSpace(text)
	if text == "" {
		slog.Warn("copywriter.PromoCopy: empty completion, using fallback")
		return fallback
	}
	return text
}

func staticPromo(customerName, offer string) string {
	name := strings.TrimSpace(customerName)
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hi %s! %s. Book your visit today and keep your car in top shape.", name, strings.TrimSpace(offer))
}
