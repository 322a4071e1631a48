package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"

	"github.com/designanalyzer/api/internal/config"
	"github.com/designanalyzer/api/internal/model"
)

const visionSystemPrompt = `You are a senior product designer reviewing a web page screenshot.
Judge visual hierarchy, spacing, alignment, typography and color use.
Answer with JSON only: {"summary": string, "findings": [{"area": string, "comment": string}]}`

// chatCompleter is the part of *azopenai.Client the vision client uses
type chatCompleter interface {
	GetChatCompletions(ctx context.Context, body azopenai.ChatCompletionsOptions, options *azopenai.GetChatCompletionsOptions) (azopenai.GetChatCompletionsResponse, error)
}

// VisionClient asks an Azure OpenAI vision deployment to review a screenshot
type VisionClient struct {
	client     chatCompleter
	deployment string
	maxTokens  int32
}

// NewVisionClient creates a vision client. An empty endpoint or key yields an
// unconfigured client rather than an error.
func NewVisionClient(cfg *config.VisionConfig) (*VisionClient, error) {
	c := &VisionClient{deployment: cfg.Deployment, maxTokens: 1024}
	if cfg.Endpoint == "" || cfg.APIKey == "" {
		return c, nil
	}

	keyCredential := azcore.NewKeyCredential(cfg.APIKey)
	azClient, err := azopenai.NewClientWithKeyCredential(cfg.Endpoint, keyCredential, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating Azure OpenAI client: %w", err)
	}
	c.client = azClient

	return c, nil
}

// Review sends the screenshot and a digest of the detected elements to the model
func (c *VisionClient) Review(ctx context.Context, shot *model.Screenshot, elements []model.EnrichedElement) (*model.VisionReview, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("vision client not configured")
	}

	imageURL := shot.ImageURL
	if imageURL == "" {
		if len(shot.Image) == 0 {
			return nil, fmt.Errorf("screenshot has no image to review")
		}
		imageURL = "data:image/png;base64," + base64.StdEncoding.EncodeToString(shot.Image)
	}

	parts := []azopenai.ChatCompletionRequestMessageContentPartClassification{
		&azopenai.ChatCompletionRequestMessageContentPartText{
			Text: to.Ptr(reviewPrompt(shot, elements)),
		},
		&azopenai.ChatCompletionRequestMessageContentPartImage{
			ImageURL: &azopenai.ChatCompletionRequestMessageContentPartImageURL{
				URL: to.Ptr(imageURL),
			},
		},
	}

	resp, err := c.client.GetChatCompletions(ctx, azopenai.ChatCompletionsOptions{
		DeploymentName: to.Ptr(c.deployment),
		Messages: []azopenai.ChatRequestMessageClassification{
			&azopenai.ChatRequestSystemMessage{
				Content: azopenai.NewChatRequestSystemMessageContent(visionSystemPrompt),
			},
			&azopenai.ChatRequestUserMessage{
				Content: azopenai.NewChatRequestUserMessageContent(parts),
			},
		},
		MaxTokens: to.Ptr(c.maxTokens),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("Azure OpenAI request failed: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil || resp.Choices[0].Message.Content == nil {
		return nil, fmt.Errorf("no completion received from vision model")
	}

	review := parseReview(*resp.Choices[0].Message.Content)
	review.Model = c.deployment
	return review, nil
}

// IsConfigured returns true if an Azure OpenAI client was built
func (c *VisionClient) IsConfigured() bool {
	return c != nil && c.client != nil
}

func reviewPrompt(shot *model.Screenshot, elements []model.EnrichedElement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Page: %s (%dx%d)\n", shot.PageURL, shot.Width, shot.Height)
	fmt.Fprintf(&b, "Detected %d elements:\n", len(elements))
	for _, el := range elements {
		fmt.Fprintf(&b, "- %s %s at (%d,%d) %dx%d fg %s bg %s",
			el.ID, el.Kind, el.Box.X, el.Box.Y, el.Box.Width, el.Box.Height,
			el.Foreground.Hex(), el.Background.Hex())
		if el.Label != "" {
			fmt.Fprintf(&b, " %q", el.Label)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// parseReview reads the model's JSON answer. Models sometimes wrap JSON in
// prose or code fences; anything unparseable becomes the summary.
func parseReview(content string) *model.VisionReview {
	var review model.VisionReview

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(content[start:end+1]), &review); err == nil && review.Summary != "" {
			return &review
		}
	}

	return &model.VisionReview{Summary: strings.TrimSpace(content)}
}
