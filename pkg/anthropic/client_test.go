package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageResponse_Text(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "hello "},
		{Type: "tool_use", Text: "ignored"},
		{Type: "text", Text: "world"},
	}}
	assert.Equal(t, "hello world", resp.Text())
}

func TestContentPartBuilders(t *testing.T) {
	text := TextPart("prompt")
	assert.Equal(t, PartText, text.Type)
	assert.Equal(t, "prompt", text.Text)

	doc := DocumentPart([]byte{0x25, 0x50}, "application/pdf")
	assert.Equal(t, PartDocument, doc.Type)
	assert.Equal(t, "application/pdf", doc.MediaType)

	img := ImagePart([]byte{0x89}, "image/png")
	assert.Equal(t, PartImage, img.Type)
}

func TestToSDKMessages_Roles(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: []ContentPart{TextPart("question")}},
		{Role: "assistant", Content: []ContentPart{TextPart("answer")}},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
}

func TestToSDKMessages_DocumentBlock(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: []ContentPart{
			DocumentPart([]byte("pdf-bytes"), "application/pdf"),
			TextPart("extract providers"),
		}},
	})
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Content, 2)
}
