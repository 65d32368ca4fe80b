package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zen-ai/zen-backend/internal/api"
	"github.com/zen-ai/zen-backend/internal/config"
	"github.com/zen-ai/zen-backend/internal/core"
	"github.com/zen-ai/zen-backend/internal/filestore"
	"github.com/zen-ai/zen-backend/internal/identity"
	"github.com/zen-ai/zen-backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	dbStore, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer dbStore.Close()

	files, err := filestore.New(cfg.UploadsDir, cfg.MaxUploadSize)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize uploads directory")
	}

	identityClient := identity.NewClient(cfg.IdentityWebAPIKey, cfg.IdentityProjectID)

	clientFactory := core.NewClientFactory()
	defer clientFactory.Close()
	llmService := core.NewLLMService(clientFactory, cfg.GenerationModel)
	if cfg.GenerationAPIKey == "" {
		log.Warn().Msg("GENERATION_API_KEY is not set; AI replies are disabled")
	}

	noteService := core.NewNoteService(dbStore)
	userService := core.NewUserService(dbStore, identityClient)
	chatService := core.NewChatService(dbStore, files, llmService, noteService, cfg.GenerationAPIKey, cfg.MaxInlineAttachmentBytes)

	apiHandler := api.NewAPIHandler(chatService, noteService, userService, identityClient)
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // generation and streaming calls can take a while
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", serverAddr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Str("addr", serverAddr).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}
