package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/recall/internal/chat"
	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/internal/memory"
	"github.com/scrypster/recall/internal/server"
	"github.com/scrypster/recall/internal/vectorstore"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to YAML config file (default: config/recall.yaml if present)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	// If no config path specified, use default if it exists
	if *configPath == "" {
		defaultPath := "config/recall.yaml"
		if _, err := os.Stat(defaultPath); err == nil {
			*configPath = defaultPath
			log.WithField("path", defaultPath).Info("Using config file")
		}
	}

	// Load configuration
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadConfigFromFile(*configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}

	// Build the clients
	ollama := llm.NewOllamaClient(llm.OllamaConfig{
		BaseURL:      cfg.Ollama.URL,
		DefaultModel: cfg.Ollama.Model,
		Timeout:      cfg.Ollama.Timeout,
		Temperature:  cfg.Ollama.Temperature,
		MaxTokens:    cfg.Ollama.MaxTokens,
	})
	qdrant := vectorstore.NewQdrantClient(vectorstore.QdrantConfig{
		BaseURL: cfg.Qdrant.URL,
		Timeout: cfg.Qdrant.Timeout,
	})

	// Startup checks: fail fast on unreachable services and missing models
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStartup()

	if err := ollama.HealthCheck(startupCtx); err != nil {
		log.WithError(err).WithField("url", cfg.Ollama.URL).
			Fatal("Ollama is unreachable; is it running?")
	}
	if err := qdrant.HealthCheck(startupCtx); err != nil {
		log.WithError(err).WithField("url", cfg.Qdrant.URL).
			Fatal("Qdrant is unreachable; is it running?")
	}
	for _, model := range []string{cfg.Ollama.Model, cfg.Ollama.EmbeddingModel} {
		ok, err := ollama.HasModel(startupCtx, model)
		if err != nil {
			log.WithError(err).Warn("Could not verify installed models")
			break
		}
		if !ok {
			log.WithField("model", model).
				Fatalf("Model not installed (try: ollama pull %s)", model)
		}
	}

	// Wire the orchestrators
	memories := memory.New(memory.Config{
		Store:          qdrant,
		Embedder:       ollama,
		Memory:         cfg.Memory,
		EmbeddingModel: cfg.Ollama.EmbeddingModel,
		Logger:         log,
	})
	chatSvc := chat.New(ollama, memories, log)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, _, err := server.Start(ctx, cfg, server.Deps{
		Chat:   chatSvc,
		Memory: memories,
		Models: ollama,
		Store:  qdrant,
		Logger: log,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to start server")
	}
	log.WithFields(logrus.Fields{
		"addr":      addr,
		"model":     cfg.Ollama.Model,
		"embedding": cfg.Ollama.EmbeddingModel,
		"isolation": cfg.Memory.Isolation,
	}).Info("Recall running")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down gracefully...")
	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}
