package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageContent_UnmarshalString(t *testing.T) {
	var msg ChatMessage
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"hi"}`), &msg))

	assert.True(t, msg.Content.Valid())
	assert.False(t, msg.Content.IsMultipart())
	assert.Equal(t, "hi", msg.Content.Text())
}

func TestMessageContent_UnmarshalParts(t *testing.T) {
	raw := `{"role":"user","content":[
		{"type":"text","text":"Hello, "},
		{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA"}},
		"stray",
		{"type":"input_audio","input_audio":{}},
		{"type":"text","text":"world"}
	]}`

	var msg ChatMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	require.True(t, msg.Content.IsMultipart())
	parts := msg.Content.Parts()
	require.Len(t, parts, 5)
	assert.Equal(t, PartText, parts[0].Kind)
	assert.Equal(t, PartImageURL, parts[1].Kind)
	assert.Equal(t, "data:image/png;base64,AAAA", parts[1].ImageURL)
	assert.Equal(t, PartUnknown, parts[2].Kind)
	assert.Equal(t, PartUnknown, parts[3].Kind)
	assert.Equal(t, "input_audio", parts[3].Type)

	// 文本片段按顺序直接拼接，不插入分隔符
	assert.Equal(t, "Hello, world", msg.Content.Text())
	assert.Equal(t, 3, msg.Content.DroppedParts())
}

func TestMessageContent_InvalidShapes(t *testing.T) {
	for _, raw := range []string{
		`{"role":"user","content":null}`,
		`{"role":"user","content":42}`,
		`{"role":"user","content":{"text":"x"}}`,
		`{"role":"user"}`,
	} {
		var msg ChatMessage
		require.NoError(t, json.Unmarshal([]byte(raw), &msg), raw)
		assert.False(t, msg.Content.Valid(), raw)
	}
}

func TestMessageContent_MarshalRoundTrip(t *testing.T) {
	msg := ChatMessage{Role: RoleUser, Content: PartsContent(TextPart("a"), ImagePart("http://x/y.png"))}

	b, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":[{"type":"text","text":"a"},{"type":"image_url","image_url":{"url":"http://x/y.png"}}]}`, string(b))

	b, err = json.Marshal(ChatMessage{Role: RoleUser, Content: TextContent("plain")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":"plain"}`, string(b))
}

func TestChunkChoice_FinishReasonNull(t *testing.T) {
	b, err := json.Marshal(ChunkChoice{Delta: ChunkDelta{Content: "he"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"index":0,"delta":{"content":"he"},"finish_reason":null}`, string(b))
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "***", MaskAPIKey(""))
	assert.Equal(t, "a***", MaskAPIKey("abc"))
	assert.Equal(t, "ab***gh", MaskAPIKey("abcdefgh"))
	assert.Equal(t, "sk-***cdef", MaskAPIKey("sk-talkai-abcdef"))
}
