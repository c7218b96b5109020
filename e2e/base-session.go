package e2e

import (
	"chat-sync/contract"
	"chat-sync/infrastructure/bus"
	"chat-sync/infrastructure/remote"
	"chat-sync/infrastructure/storage"
	"chat-sync/runtime"
	"chat-sync/services"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"
)

// Backend is a complete remote side: badger storage behind the store, and a
// change bus. Hub is nil when the scenarios run over NATS.
type Backend struct {
	DB    *badger.DB
	Store *remote.Store
	Hub   *bus.Hub
	bus   contract.IChangeBus
}

type BaseSessionSuite struct {
	suite.Suite
	Config Config
	Log    *slog.Logger
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseSessionSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	s.Log = logs.GetLoggerFromLevel(slog.LevelDebug)
}

// Step prints a colorized header, then runs fn as a named subtest
func (s *BaseSessionSuite) Step(name string, fn func()) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
	s.Run(name, fn)
}

// NewBackend opens an in-memory database and the configured change bus.
func (s *BaseSessionSuite) NewBackend() *Backend {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	s.Require().NoError(err)

	b := &Backend{DB: db}
	if s.Config.NatsURL != "" {
		natsBus, err := bus.NewNatsBus(s.Log, bus.NatsConfig{URL: s.Config.NatsURL, Name: "chat-sync-e2e"})
		s.Require().NoError(err, "Failed to connect to NATS at "+s.Config.NatsURL)
		b.bus = natsBus
	} else {
		b.Hub = bus.NewHub(s.Log)
		b.bus = b.Hub
	}
	b.Store = remote.NewStore(s.Log,
		storage.NewMessageRepository(db, s.Log),
		storage.NewChannelRepository(db, s.Log),
		b.bus)

	s.T().Cleanup(func() {
		_ = b.bus.Close()
		_ = db.Close()
	})
	return b
}

// WithSession starts a session for userID against backend and closes it afterwards.
func (s *BaseSessionSuite) WithSession(backend *Backend, userID string, fn func(ctx context.Context, session *services.Session, identity *services.IdentityProvider)) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	identity := services.NewIdentityProvider(userID)
	session := services.NewSession(s.Log, backend.Store, identity, services.SessionConfig{
		Feed: services.FeedConfig{PageSize: 20, MaxContentLength: 4000},
		Subscription: runtime.SubscriptionConfig{
			BaseDelay:      10 * time.Millisecond,
			MaxDelay:       50 * time.Millisecond,
			MaxRetries:     3,
			PollInterval:   25 * time.Millisecond,
			ConnectTimeout: 2 * time.Second,
		},
	}, nil)
	defer session.Close()

	s.Require().NoError(session.Start(ctx))
	fn(ctx, session, identity)
}

// WaitFor waits for condition within the configured bound.
func (s *BaseSessionSuite) WaitFor(condition func() bool, msg string) {
	s.Require().Eventually(condition, s.Config.Wait, 10*time.Millisecond, msg)
}
