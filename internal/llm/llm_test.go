package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestResponseErr(t *testing.T) {
	var nilResp *Response
	assert.NoError(t, nilResp.Err())

	ok := &Response{Content: &genai.Content{Role: genai.RoleModel}}
	assert.NoError(t, ok.Err())

	bad := &Response{ErrorCode: "NO_CHOICES", ErrorMessage: "no choices in response"}
	require.Error(t, bad.Err())
	assert.Equal(t, "NO_CHOICES: no choices in response", bad.Err().Error())
}

func TestMaybeAppendUserContent(t *testing.T) {
	t.Run("ends with user, unchanged", func(t *testing.T) {
		contents := []*genai.Content{
			{Role: genai.RoleUser, Parts: []*genai.Part{{Text: "hi"}}},
		}
		assert.Len(t, MaybeAppendUserContent(contents), 1)
	})

	t.Run("ends with model, continuation appended", func(t *testing.T) {
		contents := []*genai.Content{
			{Role: genai.RoleUser, Parts: []*genai.Part{{Text: "hi"}}},
			{Role: genai.RoleModel, Parts: []*genai.Part{{Text: "hello"}}},
		}

		got := MaybeAppendUserContent(contents)
		require.Len(t, got, 3)
		assert.Equal(t, genai.RoleUser, got[2].Role)
		assert.NotEmpty(t, got[2].Parts[0].Text)
	})

	t.Run("empty history gets a user turn", func(t *testing.T) {
		got := MaybeAppendUserContent(nil)
		require.Len(t, got, 1)
		assert.Equal(t, genai.RoleUser, got[0].Role)
	})
}
