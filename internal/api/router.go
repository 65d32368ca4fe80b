package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", apiHandler.SignupHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Post("/google-signin", apiHandler.GoogleSignInHandler)
		r.Post("/verify-token", apiHandler.VerifyTokenHandler)
	})

	r.Route("/chats", func(r chi.Router) {
		r.Post("/", apiHandler.CreateChatHandler)
		r.Get("/", apiHandler.ListChatsHandler)
		r.Get("/{chatID}", apiHandler.GetChatDetailsHandler)
		r.Patch("/{chatID}", apiHandler.UpdateChatHandler)
		r.Delete("/{chatID}", apiHandler.DeleteChatHandler)
		r.Post("/{chatID}/messages", apiHandler.PostMessageHandler)
		r.Post("/{chatID}/messages/stream", apiHandler.StreamMessageHandler)
		r.Post("/{chatID}/files", apiHandler.UploadFileHandler)
		r.Get("/{chatID}/files", apiHandler.ListFilesHandler)
		r.Get("/{chatID}/files/{fileID}/download", apiHandler.DownloadFileHandler)
	})

	r.Route("/notes", func(r chi.Router) {
		r.Post("/", apiHandler.CreateNoteHandler)
		r.Get("/", apiHandler.ListNotesHandler)
		r.Get("/search", apiHandler.SearchNotesHandler)
		r.Get("/{noteID}", apiHandler.GetNoteHandler)
		r.Patch("/{noteID}", apiHandler.UpdateNoteHandler)
		r.Delete("/{noteID}", apiHandler.DeleteNoteHandler)
	})

	r.Route("/users", func(r chi.Router) {
		r.Get("/{uid}", apiHandler.GetProfileHandler)
		r.Patch("/{uid}", apiHandler.UpdateProfileHandler)
	})

	return r
}
