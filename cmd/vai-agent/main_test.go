package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/vango-go/vai-agent/pkg/core/knowledge"
	"github.com/vango-go/vai-agent/pkg/core/media"
	"github.com/vango-go/vai-agent/pkg/gateway/config"
	"github.com/vango-go/vai-agent/pkg/gateway/metrics"
	"github.com/vango-go/vai-agent/pkg/store"
)

func testConfig(addr string) config.Config {
	return config.Config{
		Addr:                addr,
		AuthMode:            config.AuthModeDisabled,
		APIKeys:             map[string]struct{}{},
		CORSAllowedOrigins:  map[string]struct{}{},
		MaxBodyBytes:        1 << 20,
		AgentName:           "context-agent",
		PublishWidth:        64,
		PublishHeight:       36,
		PublishFormat:       media.FormatBGRA,
		DefaultFPS:          30,
		ParticipantTimeout:  time.Second,
		ViewerQueueFrames:   4,
		ViewerGrace:         time.Second,
		ReplyTimeout:        time.Second,
		HandshakeTimeout:    time.Second,
		WSWriteTimeout:      time.Second,
		WSPingInterval:      time.Minute,
		StatusUpdateDelay:   2 * time.Second,
		LookupTopK:          3,
		ReadHeaderTimeout:   time.Second,
		ShutdownGracePeriod: time.Second,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stubDeps(cfg config.Config, sigs chan<- chan<- os.Signal) agentDeps {
	return agentDeps{
		loadConfig: func() (config.Config, error) { return cfg, nil },
		openStore:  func(context.Context, config.Config) (*store.Store, error) { return nil, nil },
		newKnowledge: func(context.Context, config.Config, *slog.Logger) (*knowledge.Service, error) {
			return nil, nil
		},
		newOpener: func(context.Context, config.Config, *slog.Logger) (media.Opener, error) {
			return media.OpenerFunc(func(context.Context, string) (media.Source, error) {
				return nil, errors.New("no media in tests")
			}), nil
		},
		signalNotify: func(c chan<- os.Signal, _ ...os.Signal) {
			if sigs != nil {
				sigs <- c
			}
		},
		signalStop: func(chan<- os.Signal) {},
	}
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	var stderr bytes.Buffer
	deps := stubDeps(config.Config{}, nil)
	deps.loadConfig = func() (config.Config, error) { return config.Config{}, errors.New("boom") }
	deps.openStore = func(context.Context, config.Config) (*store.Store, error) {
		t.Fatalf("openStore should not be called when config load fails")
		return nil, nil
	}

	if code := runMain(context.Background(), &stderr, deps); code != 1 {
		t.Fatalf("exitCode=%d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "load config: boom") {
		t.Fatalf("stderr=%q", stderr.String())
	}
}

func TestRunAgent_MissingDependencies(t *testing.T) {
	if err := runAgent(context.Background(), quietLogger(), agentDeps{}); err == nil {
		t.Fatalf("expected error for empty deps")
	}
}

func TestRunAgent_StopsOnSignal(t *testing.T) {
	sigs := make(chan chan<- os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runAgent(context.Background(), quietLogger(), stubDeps(testConfig("127.0.0.1:0"), sigs))
	}()

	var sigCh chan<- os.Signal
	select {
	case sigCh = <-sigs:
	case <-time.After(2 * time.Second):
		t.Fatalf("signal handler not installed")
	}
	sigCh <- syscall.SIGTERM

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runAgent=%v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("runAgent did not stop")
	}
}

func TestRunAgent_ReportsListenError(t *testing.T) {
	err := runAgent(context.Background(), quietLogger(), stubDeps(testConfig("127.0.0.1:-1"), nil))
	if err == nil || !strings.Contains(err.Error(), "serve:") {
		t.Fatalf("err=%v, want serve error", err)
	}
}

func TestRunAgent_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := runAgent(ctx, quietLogger(), stubDeps(testConfig("127.0.0.1:0"), nil))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	cfg := config.Config{Addr: "127.0.0.1:9999", ReadHeaderTimeout: 2 * time.Second}
	srv := buildHTTPServer(cfg, http.NotFoundHandler())
	if srv.Addr != cfg.Addr || srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("Addr=%q ReadHeaderTimeout=%v", srv.Addr, srv.ReadHeaderTimeout)
	}
}

func TestBuildRooms_RejectsUnknownScaler(t *testing.T) {
	cfg := testConfig(":0")
	cfg.Scaler = "lanczos9"
	p, _ := loadPersona("")
	if _, err := buildRooms(cfg, quietLogger(), metrics.NewMetrics("t"), p, nil, nil, nil); err == nil {
		t.Fatalf("expected scaler error")
	}
}

func TestNewKnowledge_DisabledWithoutKeys(t *testing.T) {
	svc, err := newKnowledge(context.Background(), testConfig(":0"), quietLogger())
	if err != nil || svc != nil {
		t.Fatalf("svc=%v err=%v, want nil,nil", svc, err)
	}
}

func TestLoadPersona_DefaultWhenUnset(t *testing.T) {
	p, err := loadPersona("")
	if err != nil {
		t.Fatalf("loadPersona: %v", err)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("default persona invalid: %v", err)
	}
	if _, err := loadPersona("/nonexistent/persona.yaml"); err == nil {
		t.Fatalf("expected error for missing persona file")
	}
}
