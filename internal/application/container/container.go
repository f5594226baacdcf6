// Package container provides dependency injection for the tracker's singletons
package container

import (
	"fmt"
	"io"
	"time"

	"github.com/AtRiskMedia/tracker-go/internal/application/services"
	"github.com/AtRiskMedia/tracker-go/internal/domain/tracking"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/cookies"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/database"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/payload"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/security"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/transport"
	"github.com/AtRiskMedia/tracker-go/pkg/config"
)

// Container holds the shared collaborators every Tracker is built from.
// Cookie stores are per request or per profile and are passed to TrackerFor.
type Container struct {
	Logger        *logging.ChanneledLogger
	PerfTracker   *performance.Tracker
	Transport     tracking.Transport
	Builder       tracking.PayloadBuilder
	Encoder       tracking.PIIEncoder
	CookieOptions cookies.Options
}

// NewContainer wires collaborators from the values in pkg/config. Console
// logs go to console, stdout when nil.
func NewContainer(console io.Writer) (*Container, error) {
	logger, err := logging.NewChanneledLogger(&logging.LoggerConfig{
		OutputToConsole: true,
		Console:         console,
		OutputToFile:    config.LogToFile,
		LogDirectory:    config.LogDirectory,
		JSONFormat:      config.LogJSON,
		DefaultLevel:    logging.ParseLevel(config.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	perfConfig := performance.DefaultTrackerConfig()
	perfConfig.Logger = logger.Perf()
	perfTracker := performance.NewTracker(perfConfig)

	tr, err := newTransport(logger)
	if err != nil {
		logger.Close()
		return nil, err
	}

	var encoder tracking.PIIEncoder = security.Base64Encoder{}
	if config.TrackerPIIKey != "" {
		keyed, err := security.NewKeyedEncoder(config.TrackerPIIKey)
		if err != nil {
			logger.Close()
			return nil, fmt.Errorf("invalid TRACKER_PII_KEY: %w", err)
		}
		encoder = keyed
	}

	opts := cookies.DefaultOptions()
	opts.MaxAge = time.Duration(config.CookieMaxAgeDays) * 24 * time.Hour
	opts.Domain = config.CookieDomain
	opts.Path = config.CookiePath
	opts.Secure = config.CookieSecure

	return &Container{
		Logger:        logger,
		PerfTracker:   perfTracker,
		Transport:     tr,
		Builder:       payload.NewBuilder(),
		Encoder:       encoder,
		CookieOptions: opts,
	}, nil
}

// NewContainerWithTransport wires a container around an existing transport,
// with default encoder and cookie options.
func NewContainerWithTransport(tr tracking.Transport, logger *logging.ChanneledLogger) *Container {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Container{
		Logger:        logger,
		PerfTracker:   performance.NewTracker(nil),
		Transport:     tr,
		Builder:       payload.NewBuilder(),
		Encoder:       security.Base64Encoder{},
		CookieOptions: cookies.DefaultOptions(),
	}
}

func newTransport(logger *logging.ChanneledLogger) (tracking.Transport, error) {
	switch config.TrackerTransport {
	case "", "http":
		return transport.NewHTTPTransport(transport.HTTPConfig{
			BaseURL:  config.TrackerEndpoint,
			APIKey:   config.TrackerAPIKey,
			Timeout:  config.TrackerTimeout,
			TokenTTL: config.TrackerTokenTTL,
			Logger:   logger.Transport(),
		})
	case "websocket", "ws":
		return transport.NewWebSocketTransport(transport.WebSocketConfig{
			URL:      config.TrackerEndpoint,
			APIKey:   config.TrackerAPIKey,
			Timeout:  config.TrackerTimeout,
			TokenTTL: config.TrackerTokenTTL,
			Logger:   logger.Transport(),
		})
	default:
		return nil, fmt.Errorf("unknown TRACKER_TRANSPORT %q", config.TrackerTransport)
	}
}

// TrackerFor builds a Tracker over store.
func (c *Container) TrackerFor(store tracking.CookieStore) *services.Tracker {
	return services.NewTracker(store, c.Builder, c.Transport,
		services.WithEncoder(c.Encoder),
		services.WithLogger(c.Logger.Tracker()),
		services.WithPerfTracker(c.PerfTracker),
	)
}

// OpenCookieDatabase opens the database backing SQL cookie stores.
func (c *Container) OpenCookieDatabase() (*database.Database, error) {
	db, err := database.Open(database.Config{
		SQLitePath:      config.CookieDBPath,
		TursoURL:        config.TursoDatabaseURL,
		TursoToken:      config.TursoAuthToken,
		MaxOpenConns:    config.DBMaxOpenConns,
		MaxIdleConns:    config.DBMaxIdleConns,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	c.Logger.Cookies().Info("Cookie database opened", "connection", db.GetConnectionInfo())
	return db, nil
}

// Close releases the transport connection and log files.
func (c *Container) Close() error {
	var firstErr error
	if closer, ok := c.Transport.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			firstErr = err
		}
	}
	if err := c.Logger.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
