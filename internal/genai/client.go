package genai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-1.5-flash-latest"

// ErrNoSQL is returned when the model answers without a SQL statement.
var ErrNoSQL = errors.New("model response contains no SQL statement")

// geminiClient implements the LLMClient interface using the Google Gemini API.
type geminiClient struct {
	client *genai.Client
	cfg    Config
	logger *zap.Logger
}

// LLMClient produces candidate SQL. Its output is untrusted text; it is never
// executed without passing the policy gate.
type LLMClient interface {
	// GenerateSQL asks the model for a single read-only query answering
	// question over the schema described by schemaContext.
	GenerateSQL(ctx context.Context, in PromptInput) (string, error)

	// IsAPIKeyValid checks if the configured API key is functional.
	IsAPIKeyValid(ctx context.Context) error

	// Close cleans up any resources used by the client.
	Close() error
}

// Config holds configuration for the GenAI client.
type Config struct {
	APIKey string
	Model  string
	Logger *zap.Logger
}

// PromptInput is everything the prompt is built from.
type PromptInput struct {
	Question      string
	Dialect       string
	SchemaContext string
	// ExtraContext is free text from --context files.
	ExtraContext string
	MaxRows      int
}

// NewClient creates a new Gemini client.
func NewClient(ctx context.Context, cfg Config) (LLMClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("cannot create Gemini client: API key is missing")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
		logger.Info("Gemini model not specified, using default", zap.String("model", cfg.Model))
	}

	return &geminiClient{
		client: client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Close cleans up the underlying Gemini client.
func (c *geminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAPIKeyValid checks if the Gemini API key is valid by listing models.
func (c *geminiClient) IsAPIKeyValid(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("gemini client not initialized (likely missing API key)")
	}

	modelIterator := c.client.ListModels(ctx)
	_, err := modelIterator.Next()
	if err != nil {
		if st, ok := status.FromError(err); ok {
			if st.Code() == codes.Unauthenticated || st.Code() == codes.PermissionDenied {
				return fmt.Errorf("invalid Gemini API key or insufficient permissions: %w", err)
			}
		}
		return fmt.Errorf("failed to verify Gemini API key by listing models: %w", err)
	}
	return nil
}

// GenerateSQL generates a candidate query using the Gemini API.
func (c *geminiClient) GenerateSQL(ctx context.Context, in PromptInput) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("gemini client not initialized")
	}
	if strings.TrimSpace(in.Question) == "" {
		return "", fmt.Errorf("question is empty")
	}

	model := c.client.GenerativeModel(c.cfg.Model)
	model.SetTemperature(0.1)
	model.SetMaxOutputTokens(1024)
	model.SetTopP(0.9)
	model.SetTopK(40)

	resp, err := model.GenerateContent(ctx, genai.Text(BuildPrompt(in)))
	if err != nil {
		return "", fmt.Errorf("Gemini API call failed: %w", err)
	}

	text, err := getFirstTextPart(resp)
	if err != nil {
		return "", err
	}
	sql, err := ExtractSQL(text)
	if err != nil {
		c.logger.Warn("could not extract SQL from Gemini response", zap.Error(err))
		return "", err
	}

	c.logger.Debug("generated candidate SQL", zap.String("model", c.cfg.Model))
	return sql, nil
}

// BuildPrompt renders the instructions sent to the model.
func BuildPrompt(in PromptInput) string {
	var extra string
	if strings.TrimSpace(in.ExtraContext) != "" {
		extra = fmt.Sprintf(`
	********** Additional Context **********
	%s
	********** End Additional Context **********
	`, in.ExtraContext)
	}

	return fmt.Sprintf(`
	You translate questions into a single read-only SQL query for a %s database.

	********** Schema **********
	%s
	********** End Schema **********
	%s
	**Instructions:**
	1. Use ONLY the tables and columns listed in the Schema. Do not guess other names.
	2. Write exactly one SELECT statement. Never modify data or schema.
	3. Name every column explicitly instead of using *.
	4. Return at most %d rows.
	5. Output ONLY the query within <sql></sql> tags. If the question cannot be answered from the Schema, output empty <sql></sql> tags.

	Question: %s
	`, in.Dialect, in.SchemaContext, extra, in.MaxRows, in.Question)
}

// ExtractSQL takes the statement out of a model answer. It accepts the
// requested <sql> tags and falls back to a fenced code block.
func ExtractSQL(text string) (string, error) {
	if content, found := extractContentBetween(text, "<sql>", "</sql>"); found {
		if content == "" {
			return "", ErrNoSQL
		}
		return content, nil
	}
	if content, found := extractContentBetween(text, "```sql", "```"); found && content != "" {
		return content, nil
	}
	return "", ErrNoSQL
}

// getFirstTextPart extracts the first text part from a Gemini response.
func getFirstTextPart(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		safetyRatings := "none"
		if resp != nil && len(resp.Candidates) > 0 {
			finishReason = resp.Candidates[0].FinishReason.String()
			if resp.Candidates[0].SafetyRatings != nil {
				safetyRatings = fmt.Sprintf("%v", resp.Candidates[0].SafetyRatings)
			}
		}
		return "", fmt.Errorf("empty or incomplete response from Gemini API. FinishReason: %s, SafetyRatings: %s", finishReason, safetyRatings)
	}
	part := resp.Candidates[0].Content.Parts[0]
	text, ok := part.(genai.Text)
	if !ok {
		return "", fmt.Errorf("unexpected response part type: %T", part)
	}
	return string(text), nil
}

// extractContentBetween extracts content between start and end tags from a string.
func extractContentBetween(text, startTag, endTag string) (string, bool) {
	startIndex := strings.Index(text, startTag)
	if startIndex == -1 {
		return "", false
	}
	startIndex += len(startTag)
	endIndex := strings.Index(text[startIndex:], endTag)
	if endIndex == -1 {
		return "", false
	}
	return strings.TrimSpace(text[startIndex : startIndex+endIndex]), true
}
