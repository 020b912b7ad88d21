package gemini

import (
	"context"
	"errors"

	"cloud.google.com/go/vertexai/genai"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Client is a text-generation client for Gemini on Vertex AI.
type Client struct {
	client       *genai.Client
	defaultModel string

	googleOptions []option.ClientOption
}

// Option is a function that configures a Client.
type Option func(*Client)

// WithDefaultModel sets the model to use for completions.
func WithDefaultModel(modelName string) Option {
	return func(c *Client) {
		c.defaultModel = modelName
	}
}

// WithGoogleOptions sets additional Google API client options.
func WithGoogleOptions(options ...option.ClientOption) Option {
	return func(c *Client) {
		c.googleOptions = append(c.googleOptions, options...)
	}
}

// New creates a new client for Gemini on Vertex AI.
func New(ctx context.Context, projectID, location string, options ...Option) (*Client, error) {
	client := &Client{
		defaultModel: "gemini-1.5-flash",
	}

	for _, option := range options {
		option(client)
	}

	genaiClient, err := genai.NewClient(ctx, projectID, location, client.googleOptions...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Vertex AI client",
			goerr.V("project_id", projectID), goerr.V("location", location))
	}
	client.client = genaiClient

	return client, nil
}

// Generate returns the full completion for the prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	model := c.client.GenerativeModel(c.defaultModel)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content")
	}
	return responseText(resp), nil
}

// Stream delivers the completion incrementally through callback.
func (c *Client) Stream(ctx context.Context, prompt string, callback func(chunk string) error) error {
	model := c.client.GenerativeModel(c.defaultModel)
	iter := model.GenerateContentStream(ctx, genai.Text(prompt))

	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return goerr.Wrap(err, "failed to receive stream chunk")
		}
		if text := responseText(resp); text != "" {
			if err := callback(text); err != nil {
				return err
			}
		}
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	var text string
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text += string(t)
			}
		}
	}
	return text
}
