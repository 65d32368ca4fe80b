package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zen-ai/zen-backend/internal/apperr"
)

const (
	defaultReplyTimeout  = 30 * time.Second
	defaultTitleTimeout  = 20 * time.Second
	defaultStreamTimeout = 60 * time.Second

	// DefaultChatTitle is the placeholder eligible for automatic replacement.
	DefaultChatTitle = "New chat"

	titleMaxLen = 80

	titleInstruction = "Create a short, descriptive title for this conversation in six words or fewer. " +
		"Always write the title in the same language as the user's message. " +
		"Return only the title text without punctuation at the end. " +
		"Give me short, factual, and clear names for AI chat conversations. The names should act as bullet points " +
		"and convey the essence of the content. No unnecessary words, no marketing, just a functional description."
)

// Conversation roles accepted from clients. The provider has no system role,
// so system turns are sent as user turns and assistant turns as "model".
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"

	providerRoleUser  = "user"
	providerRoleModel = "model"
)

// ErrEmptyConversation is returned when no message yields content after
// empty-message filtering. Classified as a generation failure: by the time
// the provider call is assembled, request validation is already done.
var ErrEmptyConversation = apperr.New(apperr.Generation, "empty_conversation", "At least one message with content is required.")

// PromptPart is one non-text piece of a prompt message: inline bytes or a
// reference to a previously uploaded provider file.
type PromptPart struct {
	Text     string
	Data     []byte
	MIMEType string
	FileURI  string
}

// PromptMessage is one role-tagged turn of the conversation sent to the
// generation API.
type PromptMessage struct {
	Role    string
	Content string
	Parts   []PromptPart
}

// TextGenerator is the orchestrator's view of the generation API.
type TextGenerator interface {
	GenerateReply(ctx context.Context, history []PromptMessage, apiKey string, timeout time.Duration) (string, error)
	GenerateChatTitle(ctx context.Context, userMessage, assistantMessage, apiKey string, timeout time.Duration) (string, error)
	StreamReply(ctx context.Context, history []PromptMessage, apiKey string, timeout time.Duration) (ReplyStream, context.CancelFunc, error)
}

// ClientFactory caches provider clients per API key so repeated calls reuse
// the underlying connection. Explicitly injected rather than package-global;
// recreating clients would be correct, just slower.
type ClientFactory struct {
	mu      sync.Mutex
	clients map[string]*genai.Client
}

func NewClientFactory() *ClientFactory {
	return &ClientFactory{clients: make(map[string]*genai.Client)}
}

func (f *ClientFactory) ClientFor(ctx context.Context, apiKey string) (*genai.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[apiKey]; ok {
		return client, nil
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create generation client: %w", err)
	}
	f.clients[apiKey] = client
	return client, nil
}

func (f *ClientFactory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, client := range f.clients {
		_ = client.Close()
		delete(f.clients, key)
	}
}

// generateRequest bundles the inputs of a single call attempt.
type generateRequest struct {
	model    string
	contents []*genai.Content
	timeout  time.Duration
}

// callStrategy issues one attempt against the SDK. A strategy whose call
// shape the SDK rejects returns an error classified retryable by
// isBadCallShape; the runner then moves to the next strategy. Any other
// failure is fatal and stops the fallback chain.
type callStrategy func(ctx context.Context, client *genai.Client, req generateRequest) (string, error)

// streamStrategy opens one streaming attempt. The returned cancel func must
// be called once the stream is drained.
type streamStrategy func(ctx context.Context, client *genai.Client, req generateRequest) (ReplyStream, context.CancelFunc, error)

// errUnsupportedCall marks an attempt the SDK could not express at all.
var errUnsupportedCall = errors.New("call signature not supported by generation SDK")

// isBadCallShape separates wrong-signature rejections (retry with the next
// strategy) from genuine API or transport failures (fatal).
func isBadCallShape(err error) bool {
	if errors.Is(err, errUnsupportedCall) {
		return true
	}
	return status.Code(err) == codes.InvalidArgument
}

// LLMService talks to the external text-generation API with multi-strategy
// fallback across SDK call shapes.
type LLMService struct {
	factory *ClientFactory
	model   string

	strategies       []callStrategy
	streamStrategies []streamStrategy
}

func NewLLMService(factory *ClientFactory, model string) *LLMService {
	s := &LLMService{factory: factory, model: model}
	// Newest call shape first; each subsequent entry drops a capability the
	// older SDK may not have.
	s.strategies = []callStrategy{
		sendViaChatSession,
		generateWithDeadline,
		generateWithoutDeadline,
	}
	// The genai stream calls only fail on the first Next, never at open
	// time, so with the current SDK the chain below never advances past its
	// first entry; the order still matters if a future SDK rejects a call
	// shape up front.
	s.streamStrategies = []streamStrategy{
		streamViaChatSession,
		streamViaModel,
		s.streamBuffered,
	}
	return s
}

// GenerateReply sends the composed history and returns the assistant text.
func (s *LLMService) GenerateReply(ctx context.Context, history []PromptMessage, apiKey string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = defaultReplyTimeout
	}
	contents := formatHistory(history)
	if len(contents) == 0 {
		return "", ErrEmptyConversation
	}

	client, err := s.factory.ClientFor(ctx, apiKey)
	if err != nil {
		return "", generationErr(err)
	}

	req := generateRequest{model: s.model, contents: contents, timeout: timeout}
	return s.runStrategies(ctx, client, req)
}

// runStrategies walks the fallback chain: a bad-call-shape rejection moves to
// the next strategy, anything else is fatal.
func (s *LLMService) runStrategies(ctx context.Context, client *genai.Client, req generateRequest) (string, error) {
	var last error
	for _, strategy := range s.strategies {
		text, err := strategy(ctx, client, req)
		if err == nil {
			text = strings.TrimSpace(text)
			if text == "" {
				return "", generationErr(errors.New("generation API returned an empty response"))
			}
			return text, nil
		}
		if isBadCallShape(err) {
			last = err
			continue
		}
		return "", generationErr(err)
	}
	return "", generationErr(last)
}

// GenerateChatTitle produces a concise title from the opening exchange.
func (s *LLMService) GenerateChatTitle(ctx context.Context, userMessage, assistantMessage, apiKey string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = defaultTitleTimeout
	}
	conversation := fmt.Sprintf("User: %s\nAssistant: %s", strings.TrimSpace(userMessage), strings.TrimSpace(assistantMessage))
	history := []PromptMessage{
		{Role: RoleSystem, Content: titleInstruction},
		{Role: RoleUser, Content: conversation},
	}

	title, err := s.GenerateReply(ctx, history, apiKey, timeout)
	if err != nil {
		return "", fmt.Errorf("failed to generate chat title: %w", err)
	}
	return CleanTitle(title), nil
}

// CleanTitle keeps the first line, strips trailing punctuation, truncates to
// the title limit, and falls back to the default title when nothing remains.
func CleanTitle(raw string) string {
	title := raw
	if i := strings.IndexAny(title, "\r\n"); i >= 0 {
		title = title[:i]
	}
	title = strings.TrimSpace(title)
	title = strings.TrimRight(title, ".;:")
	if runes := []rune(title); len(runes) > titleMaxLen {
		title = strings.TrimRight(string(runes[:titleMaxLen]), " ")
	}
	if title == "" {
		return DefaultChatTitle
	}
	return title
}

// ReplyStream yields assistant text in chunks; Next returns io.EOF when the
// stream is complete.
type ReplyStream interface {
	Next() (string, error)
}

// StreamReply opens a streaming generation. The caller must invoke the
// returned cancel func after draining the stream.
func (s *LLMService) StreamReply(ctx context.Context, history []PromptMessage, apiKey string, timeout time.Duration) (ReplyStream, context.CancelFunc, error) {
	if timeout <= 0 {
		timeout = defaultStreamTimeout
	}
	contents := formatHistory(history)
	if len(contents) == 0 {
		return nil, nil, ErrEmptyConversation
	}

	client, err := s.factory.ClientFor(ctx, apiKey)
	if err != nil {
		return nil, nil, generationErr(err)
	}

	req := generateRequest{model: s.model, contents: contents, timeout: timeout}
	var last error
	for _, strategy := range s.streamStrategies {
		stream, cancel, err := strategy(ctx, client, req)
		if err == nil {
			return stream, cancel, nil
		}
		if isBadCallShape(err) {
			last = err
			continue
		}
		return nil, nil, generationErr(err)
	}
	return nil, nil, generationErr(last)
}

// ---- call strategies ----

// sendViaChatSession uses the chat-session API with a per-request deadline,
// the richest call shape.
func sendViaChatSession(ctx context.Context, client *genai.Client, req generateRequest) (string, error) {
	model := client.GenerativeModel(req.model)
	session := model.StartChat()
	if len(req.contents) > 1 {
		session.History = req.contents[:len(req.contents)-1]
	}
	last := req.contents[len(req.contents)-1]

	tctx, cancel := context.WithTimeout(ctx, req.timeout)
	defer cancel()

	resp, err := session.SendMessage(tctx, last.Parts...)
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

// generateWithDeadline is the one-shot shape for SDKs without chat sessions:
// the whole conversation goes out as a flat ordered part list.
func generateWithDeadline(ctx context.Context, client *genai.Client, req generateRequest) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, req.timeout)
	defer cancel()
	return generateOneShot(tctx, client, req)
}

// generateWithoutDeadline is the final fallback, with no timeout at all.
func generateWithoutDeadline(ctx context.Context, client *genai.Client, req generateRequest) (string, error) {
	return generateOneShot(ctx, client, req)
}

func generateOneShot(ctx context.Context, client *genai.Client, req generateRequest) (string, error) {
	model := client.GenerativeModel(req.model)
	resp, err := model.GenerateContent(ctx, flattenContents(req.contents)...)
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

// ---- stream strategies ----

func streamViaChatSession(ctx context.Context, client *genai.Client, req generateRequest) (ReplyStream, context.CancelFunc, error) {
	model := client.GenerativeModel(req.model)
	session := model.StartChat()
	if len(req.contents) > 1 {
		session.History = req.contents[:len(req.contents)-1]
	}
	last := req.contents[len(req.contents)-1]

	tctx, cancel := context.WithTimeout(ctx, req.timeout)
	it := session.SendMessageStream(tctx, last.Parts...)
	return &iteratorStream{it: it}, cancel, nil
}

func streamViaModel(ctx context.Context, client *genai.Client, req generateRequest) (ReplyStream, context.CancelFunc, error) {
	model := client.GenerativeModel(req.model)
	tctx, cancel := context.WithTimeout(ctx, req.timeout)
	it := model.GenerateContentStream(tctx, flattenContents(req.contents)...)
	return &iteratorStream{it: it}, cancel, nil
}

// streamBuffered runs the non-streaming fallback chain and emits the whole
// reply as a single chunk, for SDKs without a usable streaming method.
func (s *LLMService) streamBuffered(ctx context.Context, client *genai.Client, req generateRequest) (ReplyStream, context.CancelFunc, error) {
	text, err := s.runStrategies(ctx, client, req)
	if err != nil {
		return nil, nil, err
	}
	return &bufferedStream{text: text}, func() {}, nil
}

type iteratorStream struct {
	it *genai.GenerateContentResponseIterator
}

func (s *iteratorStream) Next() (string, error) {
	for {
		resp, err := s.it.Next()
		if err == iterator.Done {
			return "", io.EOF
		}
		if err != nil {
			return "", generationErr(err)
		}
		text, terr := responseText(resp)
		if terr != nil {
			// Candidates without text parts can appear mid-stream; skip them.
			continue
		}
		return text, nil
	}
}

type bufferedStream struct {
	text string
	done bool
}

func (s *bufferedStream) Next() (string, error) {
	if s.done || s.text == "" {
		return "", io.EOF
	}
	s.done = true
	return s.text, nil
}

// ---- prompt shaping ----

// formatHistory maps conversation roles to the provider's role set and drops
// messages that yield no content. Explicit parts take precedence over the
// plain-text content of the same message.
func formatHistory(history []PromptMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		role := providerRoleUser
		switch msg.Role {
		case RoleAssistant, providerRoleModel:
			role = providerRoleModel
		case RoleUser, RoleSystem:
			role = providerRoleUser
		}

		var parts []genai.Part
		for _, part := range msg.Parts {
			switch {
			case part.Text != "":
				if text := strings.TrimSpace(part.Text); text != "" {
					parts = append(parts, genai.Text(text))
				}
			case len(part.Data) > 0 && part.MIMEType != "":
				parts = append(parts, genai.Blob{MIMEType: part.MIMEType, Data: part.Data})
			case part.FileURI != "":
				parts = append(parts, genai.FileData{MIMEType: part.MIMEType, URI: part.FileURI})
			}
		}
		if len(parts) == 0 {
			if text := strings.TrimSpace(msg.Content); text != "" {
				parts = append(parts, genai.Text(text))
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

func flattenContents(contents []*genai.Content) []genai.Part {
	var parts []genai.Part
	for _, content := range contents {
		parts = append(parts, content.Parts...)
	}
	return parts
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("generation API returned no candidates")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", errors.New("generation API returned no text parts")
	}
	return b.String(), nil
}

func generationErr(err error) error {
	return apperr.Wrap(apperr.Generation, "ai_error", "Generation API call failed.", err)
}
