package store

import (
	"context"
	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/lefinal/flipmatch/errors"
	"time"
)

// MatchByID retrieves the Match with the given id.
func (m *Mall) MatchByID(ctx context.Context, matchID MatchID) (Match, error) {
	matches, err := m.loadMatches(ctx, m.db, false, goqu.C("id").Eq(matchID))
	if err != nil {
		return Match{}, errors.Wrap(err, "load matches", errors.Details{"match_id": matchID})
	}
	if len(matches) == 0 {
		return Match{}, matchNotFoundError(matchID)
	}
	return matches[0], nil
}

// Matches lists all matches accepted by the given MatchFilter ordered by
// creation time.
func (m *Mall) Matches(ctx context.Context, filter MatchFilter) ([]Match, error) {
	conditions := make([]exp.Expression, 0, 2)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		conditions = append(conditions, goqu.C("status").In(statuses))
	}
	if filter.Participant.Valid {
		conditions = append(conditions, goqu.C("id").In(m.dialect.From(goqu.T("match_players")).
			Select(goqu.C("match_id")).
			Where(goqu.C("user_id").Eq(filter.Participant.String))))
	}
	matches, err := m.loadMatches(ctx, m.db, false, conditions...)
	if err != nil {
		return nil, errors.Wrap(err, "load matches", nil)
	}
	return matches, nil
}

// CreateMatch creates a new pending Match with the given initial players.
func (m *Mall) CreateMatch(ctx context.Context, initialPlayers []User) (Match, error) {
	match := Match{
		ID:      MatchID(uuid.New().String()),
		Status:  MatchStatusPending,
		Players: make([]User, len(initialPlayers)),
		Created: time.Now(),
	}
	copy(match.Players, initialPlayers)
	// Begin tx.
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return Match{}, errors.NewDBTxBeginError(err)
	}
	defer m.rollbackTx(tx, "create match")
	// Insert match.
	q, _, err := m.dialect.Insert(goqu.T("matches")).Rows(goqu.Record{
		"id":           match.ID,
		"status":       match.Status,
		"current_turn": match.CurrentTurn,
		"created":      match.Created,
	}).ToSQL()
	if err != nil {
		return Match{}, errors.NewInternalErrorFromErr(err, "insert query to sql", nil)
	}
	_, err = tx.Exec(ctx, q)
	if err != nil {
		return Match{}, errors.NewExecQueryError(err, "exec insert query", q)
	}
	err = m.writePlayers(ctx, tx, match)
	if err != nil {
		return Match{}, errors.Wrap(err, "write players", nil)
	}
	// Commit.
	err = tx.Commit(ctx)
	if err != nil {
		return Match{}, errors.NewDBTxCommitError(err)
	}
	return match, nil
}

// UpdateMatch applies the given MatchMutation to the Match with the given id.
// The match row is locked for the duration of the transaction, so concurrent
// updates of the same match are serialized. If the mutation fails, nothing is
// written.
func (m *Mall) UpdateMatch(ctx context.Context, matchID MatchID, mutate MatchMutation) (Match, error) {
	// Begin tx.
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return Match{}, errors.NewDBTxBeginError(err)
	}
	defer m.rollbackTx(tx, "update match")
	// Lock and load.
	matches, err := m.loadMatches(ctx, tx, true, goqu.C("id").Eq(matchID))
	if err != nil {
		return Match{}, errors.Wrap(err, "load match for update", errors.Details{"match_id": matchID})
	}
	if len(matches) == 0 {
		return Match{}, matchNotFoundError(matchID)
	}
	before := matches[0]
	updated := before.Copy()
	err = mutate(&updated)
	if err != nil {
		return Match{}, err
	}
	updated.ID = matchID
	// Write.
	q, _, err := m.dialect.Update(goqu.T("matches")).Set(goqu.Record{
		"status":       updated.Status,
		"current_turn": updated.CurrentTurn,
		"card1_flip":   updated.Card1Flip,
		"card2_flip":   updated.Card2Flip,
		"winner_id":    updated.WinnerID,
	}).Where(goqu.C("id").Eq(matchID)).ToSQL()
	if err != nil {
		return Match{}, errors.NewInternalErrorFromErr(err, "update query to sql", nil)
	}
	_, err = tx.Exec(ctx, q)
	if err != nil {
		return Match{}, errors.NewExecQueryError(err, "exec update query", q)
	}
	err = m.writePlayers(ctx, tx, updated)
	if err != nil {
		return Match{}, errors.Wrap(err, "write players", nil)
	}
	err = m.writeCards(ctx, tx, before, updated)
	if err != nil {
		return Match{}, errors.Wrap(err, "write cards", nil)
	}
	// Commit.
	err = tx.Commit(ctx)
	if err != nil {
		return Match{}, errors.NewDBTxCommitError(err)
	}
	return updated, nil
}

// DeleteMatch deletes the Match with the given id. Players and cards are
// removed via cascade.
func (m *Mall) DeleteMatch(ctx context.Context, matchID MatchID) error {
	q, _, err := m.dialect.Delete(goqu.T("matches")).Where(goqu.C("id").Eq(matchID)).ToSQL()
	if err != nil {
		return errors.NewInternalErrorFromErr(err, "delete query to sql", nil)
	}
	result, err := m.db.Exec(ctx, q)
	if err != nil {
		return errors.NewExecQueryError(err, "exec delete query", q)
	}
	if result.RowsAffected() != 1 {
		return matchNotFoundError(matchID)
	}
	return nil
}

// writePlayers replaces the roster of the given Match.
func (m *Mall) writePlayers(ctx context.Context, db querier, match Match) error {
	q, _, err := m.dialect.Delete(goqu.T("match_players")).Where(goqu.C("match_id").Eq(match.ID)).ToSQL()
	if err != nil {
		return errors.NewInternalErrorFromErr(err, "delete players query to sql", nil)
	}
	_, err = db.Exec(ctx, q)
	if err != nil {
		return errors.NewExecQueryError(err, "exec delete players query", q)
	}
	if len(match.Players) == 0 {
		return nil
	}
	rows := make([]interface{}, 0, len(match.Players))
	for seat, player := range match.Players {
		score := 0
		if seat < len(match.Scores) {
			score = match.Scores[seat]
		}
		rows = append(rows, goqu.Record{
			"match_id": match.ID,
			"user_id":  player.ID,
			"seat":     seat,
			"score":    score,
		})
	}
	q, _, err = m.dialect.Insert(goqu.T("match_players")).Rows(rows...).ToSQL()
	if err != nil {
		return errors.NewInternalErrorFromErr(err, "insert players query to sql", nil)
	}
	_, err = db.Exec(ctx, q)
	if err != nil {
		return errors.NewExecQueryError(err, "exec insert players query", q)
	}
	return nil
}

// writeCards writes the difference between the cards of before and updated.
// A changed layout is replaced completely while otherwise only changed matched
// flags are updated.
func (m *Mall) writeCards(ctx context.Context, db querier, before Match, updated Match) error {
	sameLayout := len(before.Cards) == len(updated.Cards)
	for i := 0; sameLayout && i < len(before.Cards); i++ {
		if before.Cards[i].Order != updated.Cards[i].Order || before.Cards[i].Value != updated.Cards[i].Value {
			sameLayout = false
		}
	}
	if sameLayout {
		for i, card := range updated.Cards {
			if card.Matched == before.Cards[i].Matched {
				continue
			}
			q, _, err := m.dialect.Update(goqu.T("cards")).Set(goqu.Record{"matched": card.Matched}).
				Where(goqu.C("match_id").Eq(updated.ID), goqu.C("ord").Eq(card.Order)).ToSQL()
			if err != nil {
				return errors.NewInternalErrorFromErr(err, "update card query to sql", nil)
			}
			_, err = db.Exec(ctx, q)
			if err != nil {
				return errors.NewExecQueryError(err, "exec update card query", q)
			}
		}
		return nil
	}
	// Replace layout.
	q, _, err := m.dialect.Delete(goqu.T("cards")).Where(goqu.C("match_id").Eq(updated.ID)).ToSQL()
	if err != nil {
		return errors.NewInternalErrorFromErr(err, "delete cards query to sql", nil)
	}
	_, err = db.Exec(ctx, q)
	if err != nil {
		return errors.NewExecQueryError(err, "exec delete cards query", q)
	}
	if len(updated.Cards) == 0 {
		return nil
	}
	rows := make([]interface{}, 0, len(updated.Cards))
	for _, card := range updated.Cards {
		rows = append(rows, goqu.Record{
			"match_id": updated.ID,
			"ord":      card.Order,
			"value":    card.Value,
			"matched":  card.Matched,
		})
	}
	q, _, err = m.dialect.Insert(goqu.T("cards")).Rows(rows...).ToSQL()
	if err != nil {
		return errors.NewInternalErrorFromErr(err, "insert cards query to sql", nil)
	}
	_, err = db.Exec(ctx, q)
	if err != nil {
		return errors.NewExecQueryError(err, "exec insert cards query", q)
	}
	return nil
}

// loadMatches loads all matches satisfying the given conditions including
// players and cards. If forUpdate is set, the match rows are locked until the
// transaction ends.
func (m *Mall) loadMatches(ctx context.Context, db querier, forUpdate bool, conditions ...exp.Expression) ([]Match, error) {
	// Build query.
	ds := m.dialect.From(goqu.T("matches")).
		Select(goqu.C("id"),
			goqu.C("status"),
			goqu.C("current_turn"),
			goqu.C("card1_flip"),
			goqu.C("card2_flip"),
			goqu.C("winner_id"),
			goqu.C("created")).
		Order(goqu.C("created").Asc(), goqu.C("id").Asc())
	if len(conditions) > 0 {
		ds = ds.Where(conditions...)
	}
	if forUpdate {
		ds = ds.ForUpdate(exp.Wait)
	}
	q, _, err := ds.ToSQL()
	if err != nil {
		return nil, errors.NewInternalErrorFromErr(err, "matches query to sql", nil)
	}
	// Query.
	rows, err := db.Query(ctx, q)
	if err != nil {
		return nil, errors.NewExecQueryError(err, "query matches", q)
	}
	matches := make([]Match, 0)
	matchIDs := make([]string, 0)
	for rows.Next() {
		var match Match
		var id, status string
		err = rows.Scan(&id,
			&status,
			&match.CurrentTurn,
			&match.Card1Flip,
			&match.Card2Flip,
			&match.WinnerID,
			&match.Created)
		if err != nil {
			rows.Close()
			return nil, errors.NewScanDBRowError(err, "scan match row", q)
		}
		match.ID = MatchID(id)
		match.Status = MatchStatus(status)
		matches = append(matches, match)
		matchIDs = append(matchIDs, id)
	}
	rows.Close()
	if len(matches) == 0 {
		return matches, nil
	}
	players, scores, err := m.loadPlayers(ctx, db, matchIDs)
	if err != nil {
		return nil, errors.Wrap(err, "load players", nil)
	}
	cards, err := m.loadCards(ctx, db, matchIDs)
	if err != nil {
		return nil, errors.Wrap(err, "load cards", nil)
	}
	for i := range matches {
		matches[i].Players = players[matches[i].ID]
		matches[i].Cards = cards[matches[i].ID]
		if matches[i].Status != MatchStatusPending {
			matches[i].Scores = scores[matches[i].ID]
		}
	}
	return matches, nil
}

// loadPlayers loads the ordered rosters and scores for the matches with the
// given ids.
func (m *Mall) loadPlayers(ctx context.Context, db querier, matchIDs []string) (map[MatchID][]User, map[MatchID][]int, error) {
	q, _, err := m.dialect.From(goqu.T("match_players").As("mp")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("mp.user_id")))).
		Select(goqu.I("mp.match_id"),
			goqu.I("mp.user_id"),
			goqu.I("u.username"),
			goqu.I("mp.score")).
		Where(goqu.I("mp.match_id").In(matchIDs)).
		Order(goqu.I("mp.match_id").Asc(), goqu.I("mp.seat").Asc()).ToSQL()
	if err != nil {
		return nil, nil, errors.NewInternalErrorFromErr(err, "players query to sql", nil)
	}
	rows, err := db.Query(ctx, q)
	if err != nil {
		return nil, nil, errors.NewExecQueryError(err, "query players", q)
	}
	defer rows.Close()
	players := make(map[MatchID][]User)
	scores := make(map[MatchID][]int)
	for rows.Next() {
		var matchID, userID, username string
		var score int
		err = rows.Scan(&matchID, &userID, &username, &score)
		if err != nil {
			return nil, nil, errors.NewScanDBRowError(err, "scan player row", q)
		}
		players[MatchID(matchID)] = append(players[MatchID(matchID)], User{ID: UserID(userID), Username: username})
		scores[MatchID(matchID)] = append(scores[MatchID(matchID)], score)
	}
	return players, scores, nil
}

// loadCards loads the boards for the matches with the given ids.
func (m *Mall) loadCards(ctx context.Context, db querier, matchIDs []string) (map[MatchID][]Card, error) {
	q, _, err := m.dialect.From(goqu.T("cards")).
		Select(goqu.C("match_id"),
			goqu.C("ord"),
			goqu.C("value"),
			goqu.C("matched")).
		Where(goqu.C("match_id").In(matchIDs)).
		Order(goqu.C("match_id").Asc(), goqu.C("ord").Asc()).ToSQL()
	if err != nil {
		return nil, errors.NewInternalErrorFromErr(err, "cards query to sql", nil)
	}
	rows, err := db.Query(ctx, q)
	if err != nil {
		return nil, errors.NewExecQueryError(err, "query cards", q)
	}
	defer rows.Close()
	cards := make(map[MatchID][]Card)
	for rows.Next() {
		var matchID string
		var card Card
		err = rows.Scan(&matchID, &card.Order, &card.Value, &card.Matched)
		if err != nil {
			return nil, errors.NewScanDBRowError(err, "scan card row", q)
		}
		cards[MatchID(matchID)] = append(cards[MatchID(matchID)], card)
	}
	return cards, nil
}
