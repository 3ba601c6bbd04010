// Package app wires all components of the server and runs them.
package app

import (
	"context"
	"github.com/lefinal/flipmatch/debugstats"
	"github.com/lefinal/flipmatch/deck"
	"github.com/lefinal/flipmatch/errors"
	"github.com/lefinal/flipmatch/gatekeeping"
	"github.com/lefinal/flipmatch/games"
	"github.com/lefinal/flipmatch/gateway"
	"github.com/lefinal/flipmatch/logging"
	"github.com/lefinal/flipmatch/matchfeedsvc"
	"github.com/lefinal/flipmatch/portal"
	"github.com/lefinal/flipmatch/services/logpublishsvc"
	"github.com/lefinal/flipmatch/store"
	"github.com/lefinal/flipmatch/web_server"
	"github.com/lefinal/flipmatch/ws"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"os"
	"time"
)

// publishLogBufferSize is the number of log entries that are buffered for
// publishing.
const publishLogBufferSize = 512

// appStore is the persistence needed by the engine and the gatekeeper.
type appStore interface {
	games.Store
	gatekeeping.UserStore
}

// App is a complete flipmatch server instance.
type App struct {
	// config is the main config used for the App.
	config Config
}

func NewApp(config Config) *App {
	return &App{
		config: config,
	}
}

// Boot sets everything up based on the set config and runs until the given
// context.Context is done.
func (app *App) Boot(ctx context.Context) error {
	// Validate config.
	err := ValidateConfig(app.config)
	if err != nil {
		return errors.Error{
			Code:    errors.ErrFatal,
			Err:     err,
			Message: "invalid config",
		}
	}
	// Setup logger.
	logger, publishLog := app.setupLogging(app.config.Log, app.config.MQTTAddr.Valid)
	defer func() {
		_ = logger.Sync()
	}()
	// Boot.
	err = app.boot(ctx, logger, publishLog)
	if err != nil {
		err = errors.Wrap(err, "boot", nil)
		errors.Log(logger, err)
		return err
	}
	return nil
}

func (app *App) boot(ctx context.Context, logger *zap.Logger, publishLog <-chan logging.LogEntry) error {
	logger.Warn("booting up")
	// Setup store.
	var matchStore appStore
	if app.config.DBConn == "" {
		logger.Warn("no database connection configured. using in-memory store")
		matchStore = newMemoryStore(logger, app.config.Users)
	} else {
		if len(app.config.Users) > 0 {
			logger.Warn("ignoring configured users as database is used", zap.Int("users", len(app.config.Users)))
		}
		logger.Debug("connecting to database")
		db, err := connectDB(ctx, logger.Named("db"), app.config.DBConn, defaultMaxDBConnections)
		if err != nil {
			return errors.Wrap(err, "connect database", nil)
		}
		defer db.Close()
		matchStore = store.NewMall(logger.Named("store"), db)
		logger.Debug("database ready")
	}
	// Setup deck.
	cardValues := app.config.CardValues
	if len(cardValues) == 0 {
		cardValues = deck.DefaultValues
	}
	dealer, err := deck.NewGenerator(cardValues, nil)
	if err != nil {
		return errors.Wrap(err, "new deck generator", nil)
	}
	// Setup engine and identity.
	engine := games.NewEngine(logger.Named("engine"), matchStore, dealer, games.Config{
		StoreTimeout: time.Duration(app.config.StoreTimeout),
		CreateEmpty:  app.config.CreateEmpty,
	})
	gatekeeper := gatekeeping.NewGatekeeper(logger.Named("gatekeeping"), matchStore, gatekeeping.Config{
		Secret:      []byte(app.config.JWTSecret),
		TokenCookie: app.config.TokenCookie,
	})
	toRun := make(serviceList)
	// Setup match feed if MQTT is configured.
	var feed gateway.Feed
	if app.config.MQTTAddr.Valid {
		portalBase, err := portal.NewBase(logging.OmitPublish(logger.Named("portal")), portal.Config{
			MQTTAddr: app.config.MQTTAddr.String,
			ClientID: app.config.MQTTClientID,
		})
		if err != nil {
			return errors.Wrap(err, "new portal base", nil)
		}
		toRun["portal"] = serviceFunc(portalBase.Open)
		matchFeed := matchfeedsvc.NewService(logger.Named("match-feed"), portalBase.NewPortal("match-feed"), engine)
		feed = matchFeed
		toRun["match-feed"] = matchFeed
		toRun["log-publish"] = logpublishsvc.New(logging.OmitPublish(logger.Named("log-publish")),
			portalBase.NewPortal("log-publish"), publishLog)
	}
	// Setup realtime gateway.
	gw := gateway.NewGateway(logger.Named("gateway"), engine, feed, gateway.Config{
		TickDelay: time.Duration(app.config.TickDelay),
	})
	hub := ws.NewHub(logger.Named("ws"), gw)
	// Setup web server.
	webServer, err := web_server.NewWebServer(logger.Named("web-server"), web_server.Config{
		ServeAddr:    app.config.ListenAddr,
		WriteTimeout: web_server.DefaultWriteTimeout,
		ReadTimeout:  web_server.DefaultReadTimeout,
	})
	if err != nil {
		return errors.Wrap(err, "create web server", nil)
	}
	webServer.PopulateRoutes(ctx, hub, gatekeeper, engine)
	toRun["gateway"] = gw
	toRun["ws-hub"] = hub
	toRun["web-server"] = webServer
	toRun["debug-stats"] = debugstats.NewService(logger.Named("debug-stats"), debugstats.Config{
		IsEnabled: app.config.Log.SystemDebugStatsInterval > 0,
		Interval:  time.Duration(app.config.Log.SystemDebugStatsInterval),
	}, gw, hub)
	logger.Warn("completed setup. running...")
	err = toRun.run(ctx, logger)
	if err != nil {
		return errors.Wrap(err, "run services", nil)
	}
	logger.Warn("shut down")
	return nil
}

// newMemoryStore creates a store.Memory that knows the given users, mapped from
// id to username.
func newMemoryStore(logger *zap.Logger, users map[string]string) *store.Memory {
	mem := store.NewMemory()
	for userID, username := range users {
		mem.PutUser(store.User{ID: store.UserID(userID), Username: username})
	}
	if len(users) == 0 {
		logger.Warn("no users configured. identity tokens will be rejected")
	}
	return mem
}

func (app *App) setupLogging(config LogConfig, publish bool) (*zap.Logger, <-chan logging.LogEntry) {
	encConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	cores := make([]zapcore.Core, 0)
	// Setup stdout logger with colorful level output.
	stdOutEncConfig := encConfig
	stdOutEncConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cores = append(cores, zapcore.NewCore(
		zapcore.NewConsoleEncoder(stdOutEncConfig),
		zapcore.Lock(os.Stdout),
		zap.LevelEnablerFunc(func(level zapcore.Level) bool {
			return level >= config.StdoutLogLevel
		})))
	// Setup error logger.
	cores = append(cores, zapcore.NewCore(
		zapcore.NewConsoleEncoder(encConfig),
		zapcore.Lock(os.Stderr),
		zap.LevelEnablerFunc(func(level zapcore.Level) bool {
			return level >= zap.ErrorLevel
		})))
	// Setup high priority logger.
	if config.HighPriorityOutput.Valid {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encConfig),
			zapcore.AddSync(&lumberjack.Logger{
				Filename: config.HighPriorityOutput.String,
				MaxSize:  config.MaxSize,
				MaxAge:   config.KeepDays,
			}),
			zap.LevelEnablerFunc(func(level zapcore.Level) bool {
				return level >= zap.WarnLevel
			})))
	}
	// Setup debug logger.
	if config.DebugOutput.Valid {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encConfig),
			zapcore.AddSync(&lumberjack.Logger{
				Filename: config.DebugOutput.String,
				MaxSize:  config.MaxSize,
				MaxAge:   config.KeepDays,
			}),
			zap.LevelEnablerFunc(func(level zapcore.Level) bool {
				return level >= zap.DebugLevel
			})))
	}
	// Setup publish logger.
	var publishLog <-chan logging.LogEntry
	if publish {
		var publishCore zapcore.Core
		publishCore, publishLog = logging.NewPublishCore(config.PublishLevel, publishLogBufferSize)
		cores = append(cores, publishCore)
	}
	// Combine.
	logger := zap.New(zapcore.NewTee(cores...))
	return logger, publishLog
}
