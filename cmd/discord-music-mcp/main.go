package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fankserver/discord-music-mcp/internal/bot"
	"github.com/fankserver/discord-music-mcp/internal/config"
	"github.com/fankserver/discord-music-mcp/internal/engine"
	"github.com/fankserver/discord-music-mcp/internal/feedback"
	"github.com/fankserver/discord-music-mcp/internal/mcp"
	"github.com/fankserver/discord-music-mcp/internal/session"
	"github.com/fankserver/discord-music-mcp/internal/voice"
	"github.com/fankserver/discord-music-mcp/pkg/resolver"
	"github.com/fankserver/discord-music-mcp/pkg/transport"
	"github.com/sirupsen/logrus"
)

var Token string

func init() {
	flag.StringVar(&Token, "token", "", "Discord Bot Token")
	flag.Parse()
}

func main() {
	// Configure logrus
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	if Token != "" {
		cfg.Token = Token
	}
	logrus.SetLevel(cfg.Level())

	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	// Set up signal handling with context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	bus := feedback.NewEventBus(256)
	defer bus.Stop()

	// Create session manager
	sessionManager := session.NewManager()
	sessionManager.SetExportDir(cfg.ExportDir)
	detachSessions := sessionManager.Attach(bus)
	defer detachSessions()
	logrus.Debug("Session manager created")

	res, tr := buildMediaStack(cfg)

	discord, err := bot.NewSession(cfg.Token)
	if err != nil {
		logrus.WithError(err).Fatal("Error creating Discord session")
	}
	connector := voice.NewDiscordConnector(discord)

	registry := engine.NewRegistry(engine.Config{
		ResolveTimeout: cfg.ResolveTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
		StreamTimeout:  cfg.StreamTimeout,
		DefaultVolume:  float64(cfg.DefaultVolume) / 100,
		QueuePageSize:  cfg.QueuePageSize,
	}, res, tr, connector, bus)

	musicBot := bot.New(discord, registry, connector, cfg.CommandPrefix)
	detachNotify := musicBot.Notify(bus)
	defer detachNotify()
	logrus.Info("Discord bot created successfully")

	if cfg.EnableMCP {
		mcpServer := mcp.NewServer(registry, sessionManager)
		go func() {
			if err := mcpServer.Start(ctx); err != nil {
				logrus.WithError(err).Error("MCP server error")
			}
		}()
		logrus.Info("MCP server started")
	}

	// Connect to Discord
	if err := musicBot.Connect(); err != nil {
		logrus.WithError(err).Fatal("Error connecting to Discord")
	}
	defer func() {
		if err := musicBot.Disconnect(); err != nil {
			logrus.WithError(err).Warn("Failed to disconnect music bot")
		}
	}()
	logrus.Info("Connected to Discord")

	// Wait for context cancellation
	logrus.Info("Bot is running. Press CTRL-C to exit.")
	<-ctx.Done()

	logrus.Info("Shutting down gracefully...")
	// Deferred functions will handle cleanup
}

func buildMediaStack(cfg config.Config) (resolver.Resolver, transport.Transport) {
	if cfg.TransportMode == config.TransportMock {
		logrus.Warn("Using mock resolver and transport, no real audio will be played")
		mock := transport.NewMockTransport(-1)
		mock.SetFrameDelay(20 * time.Millisecond)
		return resolver.NewMockResolver(), mock
	}

	ytConfig := resolver.DefaultYouTubeConfig()
	ytConfig.SearchRate = cfg.SearchRateLimit
	ytConfig.Proxy = cfg.YouTubeProxy
	res := resolver.NewYouTubeResolver(ytConfig)

	// streams run for the whole track, so no client timeout
	streamClient := resolver.NewHTTPClient(cfg.YouTubeProxy, 0)
	chain := transport.NewChain(cfg.MaxStreamAttempts,
		transport.NewYouTubeStrategy(streamClient, transport.QualityHighest),
		transport.NewYouTubeStrategy(streamClient, transport.QualityLowest),
		transport.NewYtdlpStrategy("", cfg.YouTubeProxy),
	)
	chain.OnAttempt(func(a transport.Attempt) {
		entry := logrus.WithFields(logrus.Fields{
			"attempt":  a.Number,
			"strategy": a.Strategy,
			"duration": a.Duration,
		})
		if a.Err != nil {
			entry.WithError(a.Err).Debug("Stream attempt failed")
			return
		}
		entry.Debug("Stream attempt succeeded")
	})

	logrus.WithFields(logrus.Fields{
		"max_attempts": cfg.MaxStreamAttempts,
		"proxy":        cfg.YouTubeProxy != "",
	}).Info("Using YouTube resolver and transport chain")
	return res, chain
}
