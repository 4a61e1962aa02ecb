package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/teemow/calagent/internal/agent"
	"github.com/teemow/calagent/internal/credentials"
	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/oauth"
)

// Runner streams agent runs. *agent.Orchestrator implements it.
type Runner interface {
	Stream(ctx context.Context, req agent.Request) <-chan agent.Frame
}

// Connector runs the calendar connect flow. *oauth.Manager implements it.
type Connector interface {
	AuthCodeURL(userID string, provider credentials.Provider) (string, error)
	Exchange(ctx context.Context, provider credentials.Provider, state, code string) (*credentials.Credential, error)
	Status(ctx context.Context, userID string, provider credentials.Provider) (oauth.State, error)
	Revoke(ctx context.Context, userID string, provider credentials.Provider) error
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerContext holds the dependencies shared by all handlers.
type ServerContext struct {
	ctx       context.Context
	cancel    context.CancelFunc
	runner    Runner
	connector Connector
	store     Pinger
	metrics   *instrumentation.Metrics
	logger    *slog.Logger
	mu        sync.RWMutex
	shutdown  bool
}

// NewServerContext creates a server context. store and metrics may be nil.
func NewServerContext(ctx context.Context, runner Runner, connector Connector, store Pinger, metrics *instrumentation.Metrics, logger *slog.Logger) *ServerContext {
	shutdownCtx, cancel := context.WithCancel(ctx)
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerContext{
		ctx:       shutdownCtx,
		cancel:    cancel,
		runner:    runner,
		connector: connector,
		store:     store,
		metrics:   metrics,
		logger:    logger,
	}
}

// Context returns the server context. It is cancelled on Shutdown.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

func (sc *ServerContext) Runner() Runner                    { return sc.runner }
func (sc *ServerContext) Connector() Connector              { return sc.connector }
func (sc *ServerContext) Store() Pinger                     { return sc.store }
func (sc *ServerContext) Metrics() *instrumentation.Metrics { return sc.metrics }
func (sc *ServerContext) Logger() *slog.Logger              { return sc.logger }

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown marks the context shut down and cancels it. In-flight runs see
// the cancellation at their next step.
func (sc *ServerContext) Shutdown() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return
	}
	sc.shutdown = true
	sc.cancel()
}
