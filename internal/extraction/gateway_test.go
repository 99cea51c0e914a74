package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/ave/internal/config"
	"github.com/sells-group/ave/pkg/anthropic"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

func testCfg() config.ExtractionConfig {
	return config.ExtractionConfig{Model: "claude-sonnet-4-5-20250929", MaxTokens: 4096, TimeoutSecs: 5}
}

func TestExtract_BatchArray(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(`[
		{"full_name":"Dr. Stephen Strange","npi":"1234567890","specialty":"Neurosurgery","address":"177A Bleecker St","license":"NY-123456"},
		{"full_name":"Dr. Jane Foster","npi":null,"specialty":"Astrophysics","address":"","license":""}
	]`), nil)

	g := New(client, testCfg())
	candidates, err := g.Extract(context.Background(), []byte("doc"), "roster.pdf", ModeBatch)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "1234567890", candidates[0].NPI)
	assert.Equal(t, "", candidates[1].NPI)
	client.AssertExpectations(t)
}

func TestExtract_SingleObjectWrapped(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(
		textResponse(`{"full_name":"Dr. Strange","npi":"1234567890"}`), nil)

	g := New(client, testCfg())
	candidates, err := g.Extract(context.Background(), []byte("doc"), "card.png", ModeSingle)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "Dr. Strange", candidates[0].FullName)
}

func TestExtract_MarkdownFencesStripped(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(
		textResponse("```json\n[{\"full_name\":\"Dr. Strange\"}]\n```"), nil)

	g := New(client, testCfg())
	candidates, err := g.Extract(context.Background(), []byte("doc"), "notes.txt", ModeBatch)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
}

func TestExtract_NonNumericNPIBecomesEmpty(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(
		textResponse(`[{"full_name":"Dr. A","npi":"12-34"},{"full_name":"Dr. B","npi":"null"},{"full_name":"Dr. C","npi":" 1234567890 "}]`), nil)

	g := New(client, testCfg())
	candidates, err := g.Extract(context.Background(), []byte("doc"), "list.csv", ModeBatch)
	require.NoError(t, err)
	assert.Equal(t, "", candidates[0].NPI)
	assert.Equal(t, "", candidates[1].NPI)
	assert.Equal(t, "1234567890", candidates[2].NPI)
}

func TestExtract_ModeInstructionForwarded(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		for _, p := range req.Messages[0].Content {
			if p.Type == anthropic.PartText && strings.Contains(p.Text, "ONLY the MAIN provider") {
				return true
			}
		}
		return false
	})).Return(textResponse(`[]`), nil)

	g := New(client, testCfg())
	_, err := g.Extract(context.Background(), []byte("doc"), "one.pdf", ModeSingle)
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestExtract_ServiceErrorIsFatal(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	g := New(client, testCfg())
	_, err := g.Extract(context.Background(), []byte("doc"), "roster.pdf", ModeBatch)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtractionFailed)
}

func TestExtract_MalformedOutputIsFatal(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(
		textResponse("I could not find any providers in this document."), nil)

	g := New(client, testCfg())
	_, err := g.Extract(context.Background(), []byte("doc"), "roster.pdf", ModeBatch)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtractionFailed)
}

func TestDocumentPart_MediaTypes(t *testing.T) {
	tests := []struct {
		filename string
		partType string
		media    string
	}{
		{"roster.pdf", anthropic.PartDocument, "application/pdf"},
		{"card.PNG", anthropic.PartImage, "image/png"},
		{"scan.jpeg", anthropic.PartImage, "image/jpeg"},
		{"list.csv", anthropic.PartText, ""},
		{"notes", anthropic.PartText, ""},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			p := documentPart([]byte("data"), tt.filename)
			assert.Equal(t, tt.partType, p.Type)
			assert.Equal(t, tt.media, p.MediaType)
		})
	}
}
