package web_server

import (
	"github.com/gorilla/mux"
	"github.com/lefinal/flipmatch/messages"
	"github.com/lefinal/flipmatch/store"
	"go.uber.org/zap"
	"net/http"
)

// createMatchResponse is the response for handleCreateMatch.
type createMatchResponse struct {
	ID      store.MatchID `json:"id"`
	Message string        `json:"message"`
}

// listPendingMatchesResponse is the response for handleListPendingMatches.
type listPendingMatchesResponse struct {
	Matches []messages.MatchListEntry `json:"matches"`
}

func handleCreateMatch(logger *zap.Logger, matches Matches) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := userFromRequest(r)
		if err != nil {
			respondErr(logger, w, err)
			return
		}
		matchID, err := matches.CreateMatch(r.Context(), user)
		if err != nil {
			respondErr(logger, w, err)
			return
		}
		respondJSON(logger, w, http.StatusCreated, createMatchResponse{
			ID:      matchID,
			Message: "match created",
		})
	}
}

func handleListPendingMatches(logger *zap.Logger, matches Matches) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := matches.ListPendingMatches(r.Context())
		if err != nil {
			respondErr(logger, w, err)
			return
		}
		respondJSON(logger, w, http.StatusOK, listPendingMatchesResponse{Matches: entries})
	}
}

func handleGetMatch(logger *zap.Logger, matches Matches) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matchID := store.MatchID(mux.Vars(r)["matchID"])
		match, err := matches.GetMatch(r.Context(), matchID)
		if err != nil {
			respondErr(logger, w, err)
			return
		}
		respondJSON(logger, w, http.StatusOK, match)
	}
}
