package core

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/zen-ai/zen-backend/internal/apperr"
	"github.com/zen-ai/zen-backend/internal/filestore"
	"github.com/zen-ai/zen-backend/internal/store"
	"github.com/zen-ai/zen-backend/internal/utils"
)

// maxContextNotes bounds how many saved notes are injected into a prompt.
const maxContextNotes = 3

// noteFinder is the slice of NoteService the orchestrator needs.
type noteFinder interface {
	FindNotesForText(uid, text string, limit int) ([]store.Note, error)
}

// ChatService orchestrates chat CRUD, attachment handling, and the
// message-to-reply pipeline.
type ChatService struct {
	db          *store.SQLiteStore
	files       *filestore.Store
	llm         TextGenerator
	notes       noteFinder
	apiKey      string
	inlineLimit int64
}

func NewChatService(db *store.SQLiteStore, files *filestore.Store, llm TextGenerator, notes noteFinder, generationAPIKey string, maxInlineAttachmentBytes int64) *ChatService {
	return &ChatService{
		db:          db,
		files:       files,
		llm:         llm,
		notes:       notes,
		apiKey:      generationAPIKey,
		inlineLimit: maxInlineAttachmentBytes,
	}
}

func (s *ChatService) CreateChat(uid, title string, systemPrompt *string) (*store.Chat, error) {
	if uid == "" {
		return nil, apperr.Validationf("uid is required.")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultChatTitle
	}
	return s.db.CreateChat(uid, title, systemPrompt)
}

func (s *ChatService) ListChats(uid string) ([]store.Chat, error) {
	if uid == "" {
		return nil, apperr.Validationf("uid query parameter is required.")
	}
	return s.db.ListChatsByUID(uid)
}

// getOwnedChat loads a chat and enforces ownership. Absence and ownership
// mismatch are reported separately so the API can answer 404 vs 403.
func (s *ChatService) getOwnedChat(chatID, uid string) (*store.Chat, error) {
	chat, err := s.db.GetChatByID(chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, apperr.NotFoundf("Chat not found.")
	}
	if chat.UID != uid {
		return nil, apperr.Forbiddenf("You do not have access to this chat.")
	}
	return chat, nil
}

// ChatDetails is the full view of one chat: the chat itself, its messages
// with attachment blocks inlined, and its attachment metadata.
type ChatDetails struct {
	Chat     *store.Chat     `json:"chat"`
	Messages []store.Message `json:"messages"`
	Files    []store.File    `json:"files"`
}

func (s *ChatService) GetChatDetails(chatID, uid string) (*ChatDetails, error) {
	if uid == "" {
		return nil, apperr.Validationf("uid query parameter is required.")
	}
	chat, err := s.getOwnedChat(chatID, uid)
	if err != nil {
		return nil, err
	}

	messages, err := s.db.ListMessagesByChat(chatID)
	if err != nil {
		return nil, err
	}

	var referenced []string
	for _, msg := range messages {
		referenced = append(referenced, msg.FileIDs...)
	}
	filesData, err := s.db.GetFilesMetadata(chatID, referenced)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		messages[i].Content = composeMessageContent(messages[i].Content, messages[i].FileIDs, filesData)
	}

	files, err := s.db.ListFilesByChat(chatID)
	if err != nil {
		return nil, err
	}

	return &ChatDetails{Chat: chat, Messages: messages, Files: files}, nil
}

// ChatUpdate carries a PATCH body; nil pointers mean the field was absent.
// SystemPrompt may be explicitly set to null, hence the separate flag.
type ChatUpdate struct {
	Title           *string
	SystemPrompt    *string
	SetSystemPrompt bool
}

func (s *ChatService) UpdateChat(chatID, uid string, update ChatUpdate) (*store.Chat, error) {
	if uid == "" {
		return nil, apperr.Validationf("uid is required.")
	}
	if _, err := s.getOwnedChat(chatID, uid); err != nil {
		return nil, err
	}
	if update.Title == nil && !update.SetSystemPrompt {
		return nil, apperr.Validationf("Nothing to update.")
	}
	if update.Title != nil {
		trimmed := strings.TrimSpace(*update.Title)
		update.Title = &trimmed
	}
	return s.db.UpdateChat(chatID, update.Title, update.SystemPrompt, update.SetSystemPrompt)
}

// DeleteChat removes the chat, its messages, and its attachment metadata in
// one commit, then clears the attachment bytes from disk. Disk cleanup is
// best-effort; orphaned bytes are harmless.
func (s *ChatService) DeleteChat(chatID, uid string) error {
	if uid == "" {
		return apperr.Validationf("uid is required.")
	}
	if _, err := s.getOwnedChat(chatID, uid); err != nil {
		return err
	}

	storagePaths, err := s.db.DeleteChatCascade(chatID)
	if err != nil {
		return err
	}
	for _, path := range storagePaths {
		s.files.Remove(path)
	}
	return nil
}

// UploadFile stores the attachment bytes, persists its metadata, and bumps
// the chat's updated-at. Stored bytes are removed again if the metadata
// write fails.
func (s *ChatService) UploadFile(chatID, uid, fileName, mimeType string, r io.Reader, declaredSize int64) (*store.File, error) {
	if uid == "" {
		return nil, apperr.Validationf("uid is required.")
	}
	if _, err := s.getOwnedChat(chatID, uid); err != nil {
		return nil, err
	}
	if fileName == "" {
		return nil, apperr.Validationf("file is required.")
	}

	saved, err := s.files.Save(chatID, fileName, mimeType, r, declaredSize)
	if err != nil {
		return nil, err
	}

	file := &store.File{
		ID:          saved.ID,
		ChatID:      chatID,
		UID:         uid,
		FileName:    saved.FileName,
		MIMEType:    saved.MIMEType,
		Size:        saved.Size,
		StoragePath: saved.StoragePath,
		TextPreview: saved.TextPreview,
	}
	if err := s.db.CreateFile(file); err != nil {
		s.files.Remove(saved.StoragePath)
		return nil, err
	}
	if err := s.db.TouchChat(chatID, file.CreatedAt); err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("failed to bump chat timestamp after upload")
	}
	return file, nil
}

func (s *ChatService) ListFiles(chatID, uid string) ([]store.File, error) {
	if uid == "" {
		return nil, apperr.Validationf("uid query parameter is required.")
	}
	if _, err := s.getOwnedChat(chatID, uid); err != nil {
		return nil, err
	}
	return s.db.ListFilesByChat(chatID)
}

// DownloadFile returns the attachment metadata and the absolute on-disk path
// of its bytes, verified to sit inside the uploads root.
func (s *ChatService) DownloadFile(chatID, uid, fileID string) (*store.File, string, error) {
	if uid == "" {
		return nil, "", apperr.Validationf("uid query parameter is required.")
	}
	if _, err := s.getOwnedChat(chatID, uid); err != nil {
		return nil, "", err
	}

	file, err := s.db.GetFile(chatID, fileID)
	if err != nil {
		return nil, "", err
	}
	if file == nil {
		return nil, "", apperr.NotFoundf("File not found.")
	}
	if file.StoragePath == "" {
		return nil, "", apperr.NotFoundf("File metadata incomplete.")
	}
	path, err := s.files.Resolve(file.StoragePath)
	if err != nil {
		return nil, "", apperr.NotFoundf("File not available.")
	}
	return file, path, nil
}

// MessageInput is a client's add-message request after JSON decoding.
type MessageInput struct {
	UID     string
	Content string
	Role    string
	FileIDs []string
}

// ExchangeResult is the outcome of one add-message call. UserMessage may be
// set even when the call as a whole failed: once persisted, the user's
// message survives generation failures.
type ExchangeResult struct {
	UserMessage      *store.Message `json:"userMessage"`
	AssistantMessage *store.Message `json:"assistantMessage,omitempty"`
}

// AddMessage runs the full pipeline: validate, persist the user message,
// compose history with attachments and note context, generate a reply,
// persist it, and retitle the chat if it still carries a default title.
func (s *ChatService) AddMessage(ctx context.Context, chatID string, input MessageInput) (*ExchangeResult, error) {
	state, result, err := s.beginExchange(chatID, input)
	if err != nil {
		return result, err
	}

	reply, err := s.llm.GenerateReply(ctx, state.history, s.apiKey, 0)
	if err != nil {
		return &ExchangeResult{UserMessage: state.userMessage}, err
	}

	assistant, err := s.finishExchange(ctx, state, reply)
	if err != nil {
		return &ExchangeResult{UserMessage: state.userMessage}, err
	}
	return &ExchangeResult{UserMessage: state.userMessage, AssistantMessage: assistant}, nil
}

// StreamSession is an in-flight streaming exchange. The caller drains Stream,
// then hands the accumulated text to Finish to persist the assistant message.
type StreamSession struct {
	UserMessage *store.Message
	Stream      ReplyStream

	cancel  context.CancelFunc
	state   *exchangeState
	service *ChatService
}

// Finish persists the assistant reply and runs the best-effort title update.
func (sess *StreamSession) Finish(ctx context.Context, fullText string) (*store.Message, error) {
	sess.cancel()
	return sess.service.finishExchange(ctx, sess.state, fullText)
}

// Close releases the stream without persisting a reply, for aborted streams.
func (sess *StreamSession) Close() {
	sess.cancel()
}

// StreamMessage is AddMessage's streaming variant: the reply arrives in
// chunks, and persistence of the assistant message happens on Finish.
func (s *ChatService) StreamMessage(ctx context.Context, chatID string, input MessageInput) (*StreamSession, *ExchangeResult, error) {
	state, result, err := s.beginExchange(chatID, input)
	if err != nil {
		return nil, result, err
	}

	stream, cancel, err := s.llm.StreamReply(ctx, state.history, s.apiKey, 0)
	if err != nil {
		return nil, &ExchangeResult{UserMessage: state.userMessage}, err
	}
	return &StreamSession{
		UserMessage: state.userMessage,
		Stream:      stream,
		cancel:      cancel,
		state:       state,
		service:     s,
	}, nil, nil
}

type exchangeState struct {
	chat        *store.Chat
	userMessage *store.Message
	history     []PromptMessage
	rawContent  string
}

// beginExchange covers the shared front half of AddMessage and
// StreamMessage: validation through history composition. On a soft failure
// after the user message was persisted, the returned result carries it.
func (s *ChatService) beginExchange(chatID string, input MessageInput) (*exchangeState, *ExchangeResult, error) {
	content := strings.TrimSpace(input.Content)
	role := strings.ToLower(strings.TrimSpace(input.Role))
	if role == "" {
		role = RoleUser
	}
	fileIDs := utils.NormalizeStringList(input.FileIDs, false, 0)

	if input.UID == "" {
		return nil, nil, apperr.Validationf("uid is required.")
	}
	if content == "" && len(fileIDs) == 0 {
		return nil, nil, apperr.Validationf("content is required when no files are attached.")
	}
	if role != RoleUser && role != RoleSystem {
		return nil, nil, apperr.Validationf("role must be 'user' or 'system'.")
	}

	chat, err := s.getOwnedChat(chatID, input.UID)
	if err != nil {
		return nil, nil, err
	}

	attachments := make(map[string]*store.File)
	if len(fileIDs) > 0 {
		attachments, err = s.db.GetFilesMetadata(chatID, fileIDs)
		if err != nil {
			return nil, nil, err
		}
		var missing []string
		for _, fid := range fileIDs {
			if _, ok := attachments[fid]; !ok {
				missing = append(missing, fid)
			}
		}
		if len(missing) > 0 {
			err := apperr.New(apperr.Validation, "validation_error", "One or more files could not be found for this chat.")
			return nil, nil, err.WithExtra("missingFileIds", missing)
		}
		var unauthorized []string
		for _, fid := range fileIDs {
			if attachments[fid].UID != input.UID {
				unauthorized = append(unauthorized, fid)
			}
		}
		if len(unauthorized) > 0 {
			err := apperr.New(apperr.Forbidden, "forbidden", "You do not have access to one or more attached files.")
			return nil, nil, err.WithExtra("fileIds", unauthorized)
		}
	}

	userMessage := &store.Message{
		ChatID:  chatID,
		UID:     input.UID,
		Role:    role,
		Content: content,
		FileIDs: fileIDs,
	}
	if err := s.db.CreateMessage(userMessage); err != nil {
		return nil, nil, err
	}
	if err := s.db.TouchChat(chatID, userMessage.CreatedAt); err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("failed to bump chat timestamp after message")
	}

	// The user message is durable from here on; failures below return it
	// alongside the error.
	if s.apiKey == "" {
		err := apperr.New(apperr.NotConfigured, "not_configured", "GENERATION_API_KEY is not configured.")
		return nil, &ExchangeResult{UserMessage: userMessage}, err
	}

	history, err := s.composeHistory(chat, attachments, input.UID, content)
	if err != nil {
		return nil, &ExchangeResult{UserMessage: userMessage}, err
	}

	return &exchangeState{
		chat:        chat,
		userMessage: userMessage,
		history:     history,
		rawContent:  content,
	}, nil, nil
}

// composeHistory reloads the chat's messages in creation order, prepends the
// system prompt and any note context, and inlines attachment blocks.
func (s *ChatService) composeHistory(chat *store.Chat, attachments map[string]*store.File, uid, latestContent string) ([]PromptMessage, error) {
	messages, err := s.db.ListMessagesByChat(chat.ID)
	if err != nil {
		return nil, err
	}

	var history []PromptMessage
	if chat.SystemPrompt != nil && strings.TrimSpace(*chat.SystemPrompt) != "" {
		history = append(history, PromptMessage{Role: RoleSystem, Content: *chat.SystemPrompt})
	}
	if noteContext := s.buildNoteContext(uid, latestContent); noteContext != "" {
		history = append(history, PromptMessage{Role: RoleSystem, Content: noteContext})
	}

	filesCache := make(map[string]*store.File, len(attachments))
	for id, file := range attachments {
		filesCache[id] = file
	}
	var extra []string
	for _, msg := range messages {
		for _, fid := range msg.FileIDs {
			if _, ok := filesCache[fid]; !ok {
				extra = append(extra, fid)
			}
		}
	}
	if len(extra) > 0 {
		more, err := s.db.GetFilesMetadata(chat.ID, extra)
		if err != nil {
			return nil, err
		}
		for id, file := range more {
			filesCache[id] = file
		}
	}

	for _, msg := range messages {
		prompt := PromptMessage{
			Role:    msg.Role,
			Content: composeMessageContent(msg.Content, msg.FileIDs, filesCache),
		}
		if inline := s.inlineAttachmentParts(msg.FileIDs, filesCache); len(inline) > 0 {
			prompt.Parts = append([]PromptPart{{Text: prompt.Content}}, inline...)
		}
		history = append(history, prompt)
	}
	return history, nil
}

// inlineAttachmentParts loads small non-textual attachments as raw data parts
// so the model sees images and the like directly. Textual files are covered
// by their preview block; oversized or unreadable files are skipped.
func (s *ChatService) inlineAttachmentParts(fileIDs []string, files map[string]*store.File) []PromptPart {
	var parts []PromptPart
	for _, id := range fileIDs {
		file, ok := files[id]
		if !ok || file.StoragePath == "" || file.MIMEType == "" {
			continue
		}
		if filestore.IsTextualMIME(file.MIMEType) {
			continue
		}
		if file.Size <= 0 || s.inlineLimit <= 0 || file.Size > s.inlineLimit {
			continue
		}
		data, err := s.files.ReadAll(file.StoragePath)
		if err != nil {
			log.Warn().Err(err).Str("fileId", id).Msg("failed to load attachment for inline prompt data")
			continue
		}
		parts = append(parts, PromptPart{Data: data, MIMEType: file.MIMEType})
	}
	return parts
}

// buildNoteContext looks up saved notes whose trigger words appear in the new
// message and renders them as one context block. Best-effort: lookup failures
// are logged, never surfaced.
func (s *ChatService) buildNoteContext(uid, text string) string {
	if s.notes == nil || strings.TrimSpace(text) == "" {
		return ""
	}
	notes, err := s.notes.FindNotesForText(uid, text, maxContextNotes)
	if err != nil {
		log.Warn().Err(err).Str("uid", uid).Msg("note lookup for context injection failed")
		return ""
	}
	if len(notes) == 0 {
		return ""
	}

	blocks := make([]string, 0, len(notes))
	for _, note := range notes {
		blocks = append(blocks, utils.FormatNoteForContext(utils.NoteContext{
			Title:        note.Title,
			Content:      note.Content,
			Keywords:     note.Keywords,
			TriggerWords: note.TriggerWords,
			UpdatedAt:    note.UpdatedAt,
		}, utils.DefaultContextContentLimit))
	}
	return "Context from the user's saved notes:\n\n" + strings.Join(blocks, "\n\n")
}

// finishExchange persists the assistant reply, bumps the chat, and retitles
// it when the title is still in the default set or verbatim-equals the raw
// user text. Retitling never fails the request.
func (s *ChatService) finishExchange(ctx context.Context, state *exchangeState, reply string) (*store.Message, error) {
	assistant := &store.Message{
		ChatID:  state.chat.ID,
		UID:     state.userMessage.UID,
		Role:    RoleAssistant,
		Content: reply,
	}
	if err := s.db.CreateMessage(assistant); err != nil {
		return nil, err
	}
	if err := s.db.TouchChat(state.chat.ID, assistant.CreatedAt); err != nil {
		log.Warn().Err(err).Str("chat_id", state.chat.ID).Msg("failed to bump chat timestamp after reply")
	}

	s.maybeUpdateTitle(ctx, state, reply)
	return assistant, nil
}

func (s *ChatService) maybeUpdateTitle(ctx context.Context, state *exchangeState, reply string) {
	title := strings.TrimSpace(state.chat.Title)
	lowered := strings.ToLower(title)
	if lowered != "" && lowered != strings.ToLower(DefaultChatTitle) && title != state.rawContent {
		return
	}

	prompt := state.userMessage.Content
	if prompt == "" && len(state.history) > 0 {
		prompt = state.history[len(state.history)-1].Content
	}

	newTitle, err := s.llm.GenerateChatTitle(ctx, prompt, reply, s.apiKey, 0)
	if err != nil {
		log.Warn().Err(err).Str("chat_id", state.chat.ID).Msg("unable to generate chat title")
		return
	}
	if newTitle == "" || newTitle == DefaultChatTitle {
		return
	}
	if _, err := s.db.UpdateChat(state.chat.ID, &newTitle, nil, false); err != nil {
		log.Warn().Err(err).Str("chat_id", state.chat.ID).Msg("failed to persist chat title")
		return
	}
	state.chat.Title = newTitle
}

// composeMessageContent appends a formatted block per attachment to the
// message text: a header with name, MIME type, and size, then the text
// preview when one exists.
func composeMessageContent(content string, fileIDs []string, files map[string]*store.File) string {
	var blocks []string
	for _, fid := range fileIDs {
		file, ok := files[fid]
		if !ok {
			continue
		}
		name := file.FileName
		if name == "" {
			name = "Unnamed file"
		}
		mimeType := file.MIMEType
		if mimeType == "" {
			mimeType = "unknown type"
		}
		header := fmt.Sprintf("[Attached file: %s (%s, %d bytes)]", name, mimeType, file.Size)
		if file.TextPreview != "" {
			blocks = append(blocks, header+"\n"+file.TextPreview)
		} else {
			blocks = append(blocks, header)
		}
	}
	if len(blocks) == 0 {
		return content
	}
	attachments := strings.Join(blocks, "\n\n")
	if content == "" {
		return attachments
	}
	return content + "\n\n" + attachments
}
