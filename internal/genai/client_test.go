package genai

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		wantErr error
	}{
		{"Tagged", "Sure.\n<sql>\nSELECT id FROM orders\n</sql>", "SELECT id FROM orders", nil},
		{"First tag pair wins", "<sql>SELECT 1</sql> or <sql>SELECT 2</sql>", "SELECT 1", nil},
		{"Fenced block", "```sql\nSELECT name FROM customers;\n```", "SELECT name FROM customers;", nil},
		{"Empty tags", "<sql></sql>", "", ErrNoSQL},
		{"Unclosed tag", "<sql>SELECT 1", "", ErrNoSQL},
		{"No SQL", "I cannot answer that.", "", ErrNoSQL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractSQL(tt.text)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(PromptInput{
		Question:      "How many orders?",
		Dialect:       "postgres",
		SchemaContext: "orders(id integer, total numeric)",
		ExtraContext:  "total is in euros",
		MaxRows:       500,
	})
	assert.Contains(t, p, "postgres database")
	assert.Contains(t, p, "orders(id integer, total numeric)")
	assert.Contains(t, p, "total is in euros")
	assert.Contains(t, p, "at most 500 rows")
	assert.Contains(t, p, "Question: How many orders?")

	p = BuildPrompt(PromptInput{Question: "q", SchemaContext: "s", MaxRows: 10})
	assert.NotContains(t, p, "Additional Context")
}

func TestGetFirstTextPart(t *testing.T) {
	_, err := getFirstTextPart(nil)
	assert.Error(t, err)

	_, err = getFirstTextPart(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
	})
	assert.ErrorContains(t, err, "FinishReason")

	text, err := getFirstTextPart(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []genai.Part{genai.Text("<sql>SELECT 1</sql>")}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "<sql>SELECT 1</sql>", text)
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	assert.Error(t, err)
}

func TestUninitializedClient(t *testing.T) {
	c := &geminiClient{}
	_, err := c.GenerateSQL(context.Background(), PromptInput{Question: "q"})
	assert.Error(t, err)
	assert.Error(t, c.IsAPIKeyValid(context.Background()))
	assert.NoError(t, c.Close())
	assert.False(t, errors.Is(err, ErrNoSQL))
}
