// Package genai wraps the hosted language model used for intent
// classification and knowledge-augmented answers.
//
// Both calls are consumed as black boxes by the conversation engine: on any
// failure the engine falls back to a deterministic default, so nothing in
// this package is allowed to take the state machine down.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/CivicStack/GrievanceFlow/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is the chat model used unless overridden.
const DefaultModel = openai.ChatModelGPT4oMini

// DefaultCallTimeout bounds a single model call. Expiry is treated like any
// other failure of the external service.
const DefaultCallTimeout = 30 * time.Second

// ErrNoChoicesReturned indicates the model responded without any choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

const classifySystemPrompt = `You are an intent classifier for a grievance management chatbot.
Classify the user's message into exactly one of these labels:
register_complaint - the user wants to file a new complaint, issue, or grievance
check_status - the user wants to check the status of an existing complaint
general - anything else

Reply with the label only, nothing else.`

const answerSystemPrompt = `You are a helpful customer service chatbot for a grievance management system.
Help users register complaints, check complaint status, and understand the grievance process.
Be polite, professional, and empathetic. Keep responses concise.
Answer using the knowledge base context when it is relevant.`

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChatService adapts the OpenAI SDK to chatService.
type openaiChatService struct {
	client openai.Client
}

func (s openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey  string
	Model   openai.ChatModel
	Timeout time.Duration
}

// Option configures client construction.
type Option func(*Opts)

// WithAPIKey sets the API key, overriding the OPENAI_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client wraps the OpenAI chat completion service for the two collaborator
// calls the conversation engine makes.
type Client struct {
	chat    chatService
	model   openai.ChatModel
	timeout time.Duration
}

// NewClient initializes a GenAI client. The API key comes from options or
// the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: DefaultModel, Timeout: DefaultCallTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{chat: openaiChatService{client: cli}, model: cfg.Model, timeout: cfg.Timeout}, nil
}

// generate runs one bounded chat completion and returns the first choice.
func (c *Client) generate(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.chat.Create(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

// Classify maps a user utterance to an intent label. An unrecognized reply
// parses to IntentGeneral; a transport failure additionally returns the
// error so the caller can log it.
func (c *Client) Classify(ctx context.Context, utterance string) (models.Intent, error) {
	label, err := c.generate(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(classifySystemPrompt),
		openai.UserMessage(utterance),
	})
	if err != nil {
		slog.Warn("genai.Classify failed, falling back to general intent", "error", err)
		return models.IntentGeneral, err
	}
	intent := models.ParseIntent(strings.ToLower(strings.TrimSpace(label)))
	slog.Debug("genai.Classify succeeded", "intent", intent)
	return intent, nil
}

// Answer produces an open-domain reply, optionally grounded in knowledge
// base context assembled by the caller.
func (c *Client) Answer(ctx context.Context, utterance, knowledgeContext string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(answerSystemPrompt),
	}
	if knowledgeContext != "" {
		messages = append(messages, openai.SystemMessage("Relevant information from knowledge base:\n"+knowledgeContext))
	}
	messages = append(messages, openai.UserMessage(utterance))

	answer, err := c.generate(ctx, messages)
	if err != nil {
		slog.Warn("genai.Answer failed", "error", err)
		return "", err
	}
	return strings.TrimSpace(answer), nil
}
