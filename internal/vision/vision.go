// Package vision produces text descriptions of archived images through an
// OpenAI-compatible chat completion endpoint.
package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/blockedby/channel-archiver/internal/config"
	"github.com/blockedby/channel-archiver/internal/logger"
)

const describePrompt = "Describe this image in detail. Include any visible text, " +
	"objects, people, and the overall context. Answer in the language of any text " +
	"visible in the image, otherwise in English."

const describeGroupPrompt = "These images belong to one album posted together. " +
	"Describe them as a set: what each image shows and what connects them. " +
	"Include any visible text."

// Result is the outcome of one analysis call. Error is set when Success is
// false; the exporter embeds it in place of the analysis.
type Result struct {
	Success  bool
	Analysis string
	Error    string
}

// Client calls a vision-capable chat model.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	log     *logger.Logger
}

// New creates a vision client from config. Returns nil when no API key is
// configured; callers treat a nil client as analysis-disabled.
func New(cfg *config.Config) *Client {
	if !cfg.HasVisionKey() {
		return nil
	}
	clientCfg := openai.DefaultConfig(cfg.VisionAPIKey)
	if cfg.VisionBaseURL != "" {
		clientCfg.BaseURL = cfg.VisionBaseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(clientCfg),
		model:   cfg.VisionModel,
		timeout: cfg.VisionTimeout,
		log:     logger.Get(),
	}
}

// DescribeImage analyzes a single image file.
func (c *Client) DescribeImage(ctx context.Context, imagePath string) Result {
	return c.describe(ctx, describePrompt, []string{imagePath})
}

// DescribeImageGroup analyzes a media album as one unit.
func (c *Client) DescribeImageGroup(ctx context.Context, imagePaths []string) Result {
	if len(imagePaths) == 1 {
		return c.DescribeImage(ctx, imagePaths[0])
	}
	return c.describe(ctx, describeGroupPrompt, imagePaths)
}

func (c *Client) describe(ctx context.Context, prompt string, imagePaths []string) Result {
	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: prompt},
	}
	for _, p := range imagePaths {
		url, err := imageDataURL(p)
		if err != nil {
			return Result{Error: err.Error()}
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: url},
		})
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	})
	if err != nil {
		c.log.Warn().Err(err).Strs("images", imagePaths).Msg("vision analysis failed")
		return Result{Error: fmt.Sprintf("analysis failed: %v", err)}
	}
	if len(resp.Choices) == 0 {
		return Result{Error: "analysis failed: empty response"}
	}

	analysis := strings.TrimSpace(resp.Choices[0].Message.Content)
	if analysis == "" {
		return Result{Error: "analysis failed: empty response"}
	}
	return Result{Success: true, Analysis: analysis}
}

// imageDataURL inlines an image file as a base64 data URL.
func imageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", path, err)
	}
	mime := "image/jpeg"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		mime = "image/png"
	case ".gif":
		mime = "image/gif"
	case ".webp":
		mime = "image/webp"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)), nil
}
