package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-agent/internal/dotenv"
	"github.com/vango-go/vai-agent/pkg/agent"
	"github.com/vango-go/vai-agent/pkg/agent/persona"
	"github.com/vango-go/vai-agent/pkg/core/knowledge"
	"github.com/vango-go/vai-agent/pkg/core/knowledge/embeddings"
	"github.com/vango-go/vai-agent/pkg/core/knowledge/pinecone"
	"github.com/vango-go/vai-agent/pkg/core/media"
	"github.com/vango-go/vai-agent/pkg/core/media/fetch"
	"github.com/vango-go/vai-agent/pkg/core/media/gstsource"
	"github.com/vango-go/vai-agent/pkg/core/playback"
	"github.com/vango-go/vai-agent/pkg/gateway/config"
	"github.com/vango-go/vai-agent/pkg/gateway/dispatch"
	"github.com/vango-go/vai-agent/pkg/gateway/live/room"
	"github.com/vango-go/vai-agent/pkg/gateway/metrics"
	"github.com/vango-go/vai-agent/pkg/gateway/rooms"
	gatewayserver "github.com/vango-go/vai-agent/pkg/gateway/server"
	"github.com/vango-go/vai-agent/pkg/store"
)

type agentDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(context.Context, config.Config) (*store.Store, error)
	newKnowledge func(context.Context, config.Config, *slog.Logger) (*knowledge.Service, error)
	newOpener    func(context.Context, config.Config, *slog.Logger) (media.Opener, error)
	connectNATS  func(config.Config, *slog.Logger) (*nats.Conn, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultAgentDeps() agentDeps {
	return agentDeps{
		loadConfig:   config.LoadFromEnv,
		openStore:    openStore,
		newKnowledge: newKnowledge,
		newOpener:    newOpener,
		connectNATS: func(cfg config.Config, logger *slog.Logger) (*nats.Conn, error) {
			return dispatch.Connect(cfg.NATSURL, "vai-agent", logger)
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func openStore(ctx context.Context, cfg config.Config) (*store.Store, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}
	return store.Open(ctx, cfg.DatabaseURL, store.Options{MaxConns: int32(cfg.DBMaxConns)})
}

func newKnowledge(ctx context.Context, cfg config.Config, logger *slog.Logger) (*knowledge.Service, error) {
	if !cfg.KnowledgeConfigured() {
		logger.Warn("knowledge lookups disabled", "reason", "pinecone or embeddings key not set")
		return nil, nil
	}
	httpClient := &http.Client{Timeout: 30 * time.Second}

	host := cfg.PineconeIndexHost
	if host == "" {
		resolved, err := pinecone.ResolveHost(ctx, cfg.PineconeAPIKey, cfg.PineconeControlURL, cfg.PineconeIndex, httpClient)
		if err != nil {
			return nil, fmt.Errorf("resolve pinecone index %q: %w", cfg.PineconeIndex, err)
		}
		host = resolved
	}
	index := pinecone.NewClient(cfg.PineconeAPIKey, host, cfg.PineconeNamespace, httpClient)
	if stats, err := index.DescribeIndexStats(ctx); err != nil {
		logger.Warn("pinecone stats unavailable", "host", host, "error", err)
	} else {
		logger.Info("pinecone index ready", "host", host, "dimension", stats.Dimension, "vectors", stats.TotalVectorCount)
	}

	var embedder knowledge.Embedder
	switch cfg.EmbeddingsProvider {
	case config.EmbeddingsGemini:
		g, err := embeddings.NewGemini(ctx, cfg.GeminiAPIKey, cfg.EmbeddingsModel, cfg.EmbeddingsDimensions)
		if err != nil {
			return nil, fmt.Errorf("gemini embeddings: %w", err)
		}
		embedder = g
	default:
		opts := []embeddings.Option{
			embeddings.WithHTTPClient(httpClient),
			embeddings.WithDimensions(cfg.EmbeddingsDimensions),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, embeddings.WithBaseURL(cfg.OpenAIBaseURL))
		}
		if cfg.EmbeddingsModel != "" {
			opts = append(opts, embeddings.WithModel(cfg.EmbeddingsModel))
		}
		embedder = embeddings.NewOpenAI(cfg.OpenAIAPIKey, opts...)
	}

	return knowledge.NewService(knowledge.ServiceConfig{
		Embedder: embedder,
		Index:    index,
		TopK:     cfg.LookupTopK,
		Timeout:  cfg.LookupTimeout,
		Logger:   logger,
	}), nil
}

func newOpener(ctx context.Context, cfg config.Config, logger *slog.Logger) (media.Opener, error) {
	var getter fetch.ObjectGetter
	if cfg.S3Region != "" || cfg.S3Endpoint != "" {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.S3Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.S3Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		getter = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.S3Endpoint != "" {
				o.BaseEndpoint = &cfg.S3Endpoint
				o.UsePathStyle = true
			}
		})
	}
	resolver := fetch.NewResolver(fetch.Config{
		CacheDir: cfg.MediaCacheDir,
		Timeout:  cfg.MediaFetchTimeout,
		MaxBytes: cfg.MediaMaxBytes,
		S3:       getter,
		Logger:   logger,
	})
	return resolver.Opener(gstsource.NewOpener(logger)), nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func buildRooms(cfg config.Config, logger *slog.Logger, m *metrics.Metrics, p persona.Persona, opener media.Opener, svc *knowledge.Service, st *store.Store) (*rooms.Manager, error) {
	scaler, err := media.ParseScaler(cfg.Scaler)
	if err != nil {
		return nil, err
	}
	ac := agent.Config{
		Persona: p,
		Opener:  opener,
		Playback: playback.Config{
			Width:       cfg.PublishWidth,
			Height:      cfg.PublishHeight,
			Format:      cfg.PublishFormat,
			DefaultFPS:  cfg.DefaultFPS,
			Transformer: media.Transformer{Scaler: scaler},
		},
		DefaultVideo: cfg.DefaultVideo,
		StatusDelay:  cfg.StatusUpdateDelay,
		TopK:         cfg.LookupTopK,
		Metrics:      m,
	}
	if svc != nil {
		ac.Knowledge = svc
	}
	if st != nil {
		ac.Content = st
	}
	return rooms.NewManager(rooms.Config{
		Room: room.Config{
			AgentName:          cfg.AgentName,
			ParticipantTimeout: cfg.ParticipantTimeout,
			HandshakeTimeout:   cfg.HandshakeTimeout,
			WriteTimeout:       cfg.WSWriteTimeout,
			PingInterval:       cfg.WSPingInterval,
			ViewerQueueFrames:  cfg.ViewerQueueFrames,
			ViewerGrace:        cfg.ViewerGrace,
			ReplyTimeout:       cfg.ReplyTimeout,
		},
		Agent:    ac,
		Observer: m,
		Logger:   logger,
	}), nil
}

func loadPersona(path string) (persona.Persona, error) {
	if path == "" {
		return persona.Default(), nil
	}
	return persona.Load(path)
}

func runAgent(ctx context.Context, logger *slog.Logger, deps agentDeps) error {
	if deps.loadConfig == nil || deps.openStore == nil || deps.newKnowledge == nil || deps.newOpener == nil {
		return errors.New("missing runtime dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	p, err := loadPersona(cfg.PersonaFile)
	if err != nil {
		return fmt.Errorf("load persona: %w", err)
	}

	st, err := deps.openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if st != nil {
		defer st.Close()
	}
	svc, err := deps.newKnowledge(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("knowledge: %w", err)
	}
	opener, err := deps.newOpener(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("media: %w", err)
	}

	m := metrics.NewMetrics("")
	rm, err := buildRooms(cfg, logger, m, p, opener, svc, st)
	if err != nil {
		return fmt.Errorf("rooms: %w", err)
	}
	gwDeps := gatewayserver.Deps{Rooms: rm, Metrics: m}
	if st != nil {
		gwDeps.Store = st
	}
	if svc != nil {
		gwDeps.Knowledge = svc
	}
	gw := gatewayserver.New(cfg, logger, gwDeps)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		if deps.connectNATS == nil {
			return errors.New("missing connectNATS dependency")
		}
		nc, err = deps.connectNATS(cfg, logger)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()
	}

	logger.Info("starting agent gateway", "addr", cfg.Addr, "auth_mode", cfg.AuthMode, "knowledge", svc != nil, "store", st != nil, "nats", nc != nil)

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	if nc != nil {
		consumer := dispatch.New(dispatch.Config{
			Subject:  cfg.NATSDispatchSubject,
			Queue:    cfg.NATSQueue,
			Rooms:    rm,
			Observer: m,
			Logger:   logger,
		})
		g.Go(func() error {
			if err := consumer.Run(consumerCtx, nc); err != nil {
				return fmt.Errorf("dispatch consumer: %w", err)
			}
			return nil
		})
	}

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	var cause error
	select {
	case <-gctx.Done():
		if ctx.Err() != nil {
			cause = ctx.Err()
		}
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	stopConsumer()
	if n := gw.WarnRoomsDraining(); n > 0 {
		logger.Info("warned peers of shutdown", "peers", n)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitRooms(waitCtx) {
		logger.Warn("rooms still live after grace period")
	}
	if n := gw.CloseRooms(); n > 0 {
		logger.Info("closed rooms", "rooms", n)
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if cause != nil {
		return cause
	}
	logger.Info("agent gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps agentDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.Load(".env.local", ".env"); err != nil {
		fmt.Fprintf(stderr, "vai-agent: %v\n", err)
		return 1
	}

	if err := runAgent(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "vai-agent: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultAgentDeps()))
}
