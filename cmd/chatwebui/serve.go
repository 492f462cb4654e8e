package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	chatwebui "github.com/MegaGrindStone/chat-web-ui"
	"github.com/MegaGrindStone/chat-web-ui/internal/handlers"
	"github.com/MegaGrindStone/chat-web-ui/internal/services"
	"github.com/spf13/cobra"
)

var (
	servePort string
	dbPath    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web interface",
	RunE: func(_ *cobra.Command, _ []string) error {
		return serve(newLogger())
	},
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "port to listen on (overrides the config file)")
	serveCmd.Flags().StringVar(&dbPath, "db", "", "session store path (default: <user config dir>/chatwebui/store.db)")
}

func serve(logger *slog.Logger) error {
	cfg, err := loadAppConfig(logger)
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Port = servePort
	}

	completer, transcriber, err := cfg.LLM.completer(cfg.SystemPrompt, logger)
	if err != nil {
		return err
	}

	if dbPath == "" {
		dir, err := appDir()
		if err != nil {
			return err
		}
		dbPath = filepath.Join(dir, "store.db")
	}
	boltDB, err := services.NewBoltDB(dbPath)
	if err != nil {
		return err
	}
	defer boltDB.Close()

	m, err := handlers.NewMain(completer, transcriber, boltDB, cfg.handlerOptions(), logger)
	if err != nil {
		return err
	}

	// Serve static files
	staticFS, err := fs.Sub(chatwebui.StaticFS, "static")
	if err != nil {
		return err
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/clear", m.HandleClear)
	mux.HandleFunc("/export", m.HandleExport)
	mux.HandleFunc("/templates", m.HandleTemplate)
	mux.HandleFunc("/uploads", m.HandleUpload)
	mux.HandleFunc("GET /attachments/{ref}", m.HandleAttachment)
	mux.HandleFunc("GET /streams/{id}", m.HandleStream)
	mux.HandleFunc("/sse/messages", m.HandleSSE)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting", slog.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				return fmt.Errorf("forcing server close: %w", err)
			}
		}
	}
	return nil
}
