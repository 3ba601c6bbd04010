package web_server

import (
	"context"
	"github.com/lefinal/flipmatch/messages"
	"github.com/lefinal/flipmatch/store"
	"github.com/lefinal/flipmatch/ws"
	"net/http"
)

// Matches provides the match operations exposed over HTTP.
type Matches interface {
	CreateMatch(ctx context.Context, user store.User) (store.MatchID, error)
	ListPendingMatches(ctx context.Context) ([]messages.MatchListEntry, error)
	GetMatch(ctx context.Context, matchID store.MatchID) (messages.MessageMatch, error)
}

// PopulateRoutes populates the WebServer with the routes.
func (server *WebServer) PopulateRoutes(wsCtx context.Context, hub *ws.Hub, authenticator ws.Authenticator, matches Matches) {
	// Websocket stuff.
	server.router.HandleFunc("/ws", ws.HandleWS(wsCtx, server.logger.Named("ws"), hub, authenticator))
	// API stuff.
	apiRouter := server.router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(authMiddleware(server.logger, authenticator))
	apiRouter.HandleFunc("/matches", handleCreateMatch(server.logger, matches)).Methods(http.MethodPost)
	apiRouter.HandleFunc("/matches", handleListPendingMatches(server.logger, matches)).Methods(http.MethodGet)
	apiRouter.HandleFunc("/matches/{matchID}", handleGetMatch(server.logger, matches)).Methods(http.MethodGet)
}
