package web_server

import (
	"context"
	nativeerrors "errors"
	"github.com/gorilla/mux"
	"github.com/lefinal/flipmatch/errors"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"net/http"
	"time"
)

const (
	// DefaultServeAddr is the default address to serve on.
	DefaultServeAddr = ":8080"
	// DefaultWriteTimeout is the default timeout for writing.
	DefaultWriteTimeout = 15 * time.Second
	// DefaultReadTimeout is the default timeout for reading.
	DefaultReadTimeout = 15 * time.Second
	// shutdownTimeout is the timeout for gracefully shutting down the server.
	shutdownTimeout = 15 * time.Second
)

type WebServer struct {
	logger     *zap.Logger
	config     Config
	httpServer *http.Server
	router     *mux.Router
	running    bool
}

// Config is the configuration that is used in order to create and run a web
// server.
type Config struct {
	// Address for the web server to listen to.
	ServeAddr string
	// WriteTimeout is the duration to wait until write fails with a timeout. As
	// websocket connections are hijacked, it does not apply to them.
	WriteTimeout time.Duration
	// ReadTimeout is the duration to wait until read fails with a timeout.
	ReadTimeout time.Duration
}

// NewWebServer creates a new WebServer and sets up initial stuff. It expects
// the passed Config to be filled correctly. If you need default values, these
// are exported as DefaultWriteTimeout and DefaultReadTimeout. Run it with
// WebServer.Run and do not forget to call WebServer.PopulateRoutes before.
func NewWebServer(logger *zap.Logger, config Config) (*WebServer, error) {
	if config.ServeAddr == "" {
		return nil, errors.Error{
			Code:    errors.ErrBadRequest,
			Kind:    errors.KindUnknown,
			Message: "no addr provided in config",
		}
	}
	// Setup web server.
	ws := WebServer{
		logger:  logger,
		config:  config,
		router:  mux.NewRouter(),
		running: false,
	}
	// Enable logging.
	ws.router.Use(loggingMiddleware(logger))
	// Disable caching.
	ws.router.Use(noCacheMiddleware)
	// Setup not found handler.
	ws.router.NotFoundHandler = noCacheMiddleware(loggingMiddleware(logger)(http.NotFoundHandler()))
	// Enable CORS.
	handler := cors.New(cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowCredentials: true,
	}).Handler(ws.router)
	ws.httpServer = &http.Server{
		Handler:      handler,
		Addr:         config.ServeAddr,
		WriteTimeout: config.WriteTimeout,
		ReadTimeout:  config.ReadTimeout,
	}
	return &ws, nil
}

// Handler returns the http.Handler with all middlewares applied.
func (server *WebServer) Handler() http.Handler {
	return server.httpServer.Handler
}

// Run starts the web server and blocks until the given context is done.
func (server *WebServer) Run(ctx context.Context) error {
	// Check if already running.
	if server.running {
		return errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindUnknown,
			Message: "web server already running",
		}
	}
	server.running = true
	serveErr := make(chan error, 1)
	// Start web server.
	go func() {
		server.logger.Info("web server running", zap.String("addr", server.config.ServeAddr))
		err := server.httpServer.ListenAndServe()
		if err != nil && !nativeerrors.Is(err, http.ErrServerClosed) {
			serveErr <- errors.NewInternalErrorFromErr(err, "listen and serve",
				errors.Details{"addr": server.config.ServeAddr})
		}
		close(serveErr)
	}()
	// Wait for stop command.
	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := server.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return errors.Wrap(errors.NewInternalErrorFromErr(err, "shutdown web server", nil), "shutdown", nil)
	}
	return nil
}
