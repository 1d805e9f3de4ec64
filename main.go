package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlasfin/atlas/internal/adapter/broker"
	"github.com/atlasfin/atlas/internal/adapter/llm"
	"github.com/atlasfin/atlas/internal/config"
	"github.com/atlasfin/atlas/internal/sandbox"
	"github.com/atlasfin/atlas/internal/service"
	"github.com/atlasfin/atlas/internal/store"
	"github.com/atlasfin/atlas/internal/tools"
	transport "github.com/atlasfin/atlas/internal/transport/http"
	"github.com/atlasfin/atlas/policy"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting atlas orchestrator...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Sandbox: %s", cfg.SandboxEndpoint)
	log.Printf("LLM: %s (%s)", cfg.LLMBaseURL, cfg.LLMModel)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize sandbox control plane client
	sandboxClient := sandbox.New(sandbox.Config{
		Endpoint:       cfg.SandboxEndpoint,
		Token:          cfg.SandboxToken,
		DefaultImage:   cfg.SandboxImage,
		RequestTimeout: cfg.SandboxRequestTimeout,
	})
	defer sandboxClient.Close()

	// Initialize broker and tool registry
	paperBroker := broker.NewPaperBroker(100_000)
	registry := tools.NewRegistry()
	tools.RegisterBrokerTools(registry)

	// Initialize LLM client
	llmClient := llm.NewChatClient(cfg.LLMBaseURL, cfg.LLMModel, cfg.LLMTimeout)

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize dispatcher and chat service
	dispatcher := service.NewDispatcher(db, sandboxClient, cfg, nil, nil)
	dispatcher.Start()
	chat := service.NewChat(registry, paperBroker, llmClient, policyEngine, dispatcher, cfg)

	// Create Echo server
	server := transport.NewServer(chat, dispatcher, db)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down atlas orchestrator...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: server shutdown failed: %v", err)
	}
	dispatcher.Stop()

	log.Println("Orchestrator stopped")
}
