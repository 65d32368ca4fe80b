package core

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zen-ai/zen-backend/internal/apperr"
)

func fixedStrategy(text string, err error, calls *[]string, name string) callStrategy {
	return func(ctx context.Context, client *genai.Client, req generateRequest) (string, error) {
		*calls = append(*calls, name)
		return text, err
	}
}

func TestRunStrategiesFallbackOrder(t *testing.T) {
	t.Run("falls through bad call shapes until one succeeds", func(t *testing.T) {
		var calls []string
		s := &LLMService{strategies: []callStrategy{
			fixedStrategy("", status.Error(codes.InvalidArgument, "unknown field"), &calls, "first"),
			fixedStrategy("", errUnsupportedCall, &calls, "second"),
			fixedStrategy("hello there", nil, &calls, "third"),
		}}

		text, err := s.runStrategies(context.Background(), nil, generateRequest{})
		require.NoError(t, err)
		assert.Equal(t, "hello there", text)
		assert.Equal(t, []string{"first", "second", "third"}, calls)
	})

	t.Run("fatal error stops the chain immediately", func(t *testing.T) {
		var calls []string
		fatal := errors.New("quota exceeded")
		s := &LLMService{strategies: []callStrategy{
			fixedStrategy("", fatal, &calls, "first"),
			fixedStrategy("never", nil, &calls, "second"),
		}}

		_, err := s.runStrategies(context.Background(), nil, generateRequest{})
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.Generation))
		assert.ErrorIs(t, err, fatal)
		assert.Equal(t, []string{"first"}, calls)
	})

	t.Run("exhausting all strategies surfaces the last rejection", func(t *testing.T) {
		var calls []string
		s := &LLMService{strategies: []callStrategy{
			fixedStrategy("", errUnsupportedCall, &calls, "first"),
			fixedStrategy("", errUnsupportedCall, &calls, "second"),
		}}

		_, err := s.runStrategies(context.Background(), nil, generateRequest{})
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.Generation))
	})

	t.Run("whitespace-only reply is an error", func(t *testing.T) {
		var calls []string
		s := &LLMService{strategies: []callStrategy{
			fixedStrategy("   \n", nil, &calls, "only"),
		}}

		_, err := s.runStrategies(context.Background(), nil, generateRequest{})
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.Generation))
	})
}

func TestIsBadCallShape(t *testing.T) {
	assert.True(t, isBadCallShape(errUnsupportedCall))
	assert.True(t, isBadCallShape(status.Error(codes.InvalidArgument, "bad request shape")))
	assert.False(t, isBadCallShape(status.Error(codes.Unavailable, "down")))
	assert.False(t, isBadCallShape(errors.New("plain failure")))
}

func TestGenerateReplyEmptyConversation(t *testing.T) {
	s := NewLLMService(NewClientFactory(), "test-model")

	_, err := s.GenerateReply(context.Background(), nil, "key", 0)
	assert.ErrorIs(t, err, ErrEmptyConversation)

	_, err = s.GenerateReply(context.Background(), []PromptMessage{
		{Role: RoleUser, Content: "   "},
	}, "key", 0)
	assert.ErrorIs(t, err, ErrEmptyConversation)
	assert.True(t, apperr.IsKind(err, apperr.Generation))
}

func TestFormatHistory(t *testing.T) {
	t.Run("maps roles to the provider set", func(t *testing.T) {
		contents := formatHistory([]PromptMessage{
			{Role: RoleSystem, Content: "be terse"},
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
		})
		require.Len(t, contents, 3)
		assert.Equal(t, providerRoleUser, contents[0].Role)
		assert.Equal(t, providerRoleUser, contents[1].Role)
		assert.Equal(t, providerRoleModel, contents[2].Role)
	})

	t.Run("drops empty messages", func(t *testing.T) {
		contents := formatHistory([]PromptMessage{
			{Role: RoleUser, Content: ""},
			{Role: RoleUser, Content: "  "},
			{Role: RoleUser, Content: "kept"},
		})
		require.Len(t, contents, 1)
		assert.Equal(t, genai.Text("kept"), contents[0].Parts[0])
	})

	t.Run("explicit parts take precedence over content", func(t *testing.T) {
		contents := formatHistory([]PromptMessage{
			{
				Role:    RoleUser,
				Content: "ignored",
				Parts:   []PromptPart{{Data: []byte{1, 2, 3}, MIMEType: "image/png"}},
			},
		})
		require.Len(t, contents, 1)
		require.Len(t, contents[0].Parts, 1)
		blob, ok := contents[0].Parts[0].(genai.Blob)
		require.True(t, ok)
		assert.Equal(t, "image/png", blob.MIMEType)
	})

	t.Run("file references become file data parts", func(t *testing.T) {
		contents := formatHistory([]PromptMessage{
			{Role: RoleUser, Parts: []PromptPart{{FileURI: "files/abc", MIMEType: "application/pdf"}}},
		})
		require.Len(t, contents, 1)
		fileData, ok := contents[0].Parts[0].(genai.FileData)
		require.True(t, ok)
		assert.Equal(t, "files/abc", fileData.URI)
	})
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Trip planning", "Trip planning"},
		{"first line only", "Trip planning\nSecond line", "Trip planning"},
		{"strips trailing punctuation", "Trip planning.;:", "Trip planning"},
		{"whitespace trimmed", "  Trip planning  ", "Trip planning"},
		{"empty falls back to default", "   \n", DefaultChatTitle},
		{"truncates to eighty runes", strings.Repeat("a", 100), strings.Repeat("a", 80)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanTitle(tt.in))
		})
	}
}

func TestBufferedStream(t *testing.T) {
	t.Run("yields whole text once", func(t *testing.T) {
		stream := &bufferedStream{text: "full reply"}

		chunk, err := stream.Next()
		require.NoError(t, err)
		assert.Equal(t, "full reply", chunk)

		_, err = stream.Next()
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("empty text is immediately done", func(t *testing.T) {
		stream := &bufferedStream{}
		_, err := stream.Next()
		assert.ErrorIs(t, err, io.EOF)
	})
}

func TestStreamBufferedUsesFallbackChain(t *testing.T) {
	var calls []string
	s := &LLMService{strategies: []callStrategy{
		fixedStrategy("", errUnsupportedCall, &calls, "first"),
		fixedStrategy("streamed as one chunk", nil, &calls, "second"),
	}}

	stream, cancel, err := s.streamBuffered(context.Background(), nil, generateRequest{})
	require.NoError(t, err)
	defer cancel()

	chunk, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "streamed as one chunk", chunk)

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestResponseText(t *testing.T) {
	t.Run("concatenates text parts", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []genai.Part{genai.Text("a"), genai.Text("b")}},
			}},
		}
		text, err := responseText(resp)
		require.NoError(t, err)
		assert.Equal(t, "ab", text)
	})

	t.Run("no candidates", func(t *testing.T) {
		_, err := responseText(&genai.GenerateContentResponse{})
		assert.Error(t, err)
	})

	t.Run("nil response", func(t *testing.T) {
		_, err := responseText(nil)
		assert.Error(t, err)
	})
}
