package store

import (
	"context"
	"github.com/doug-martin/goqu/v9"
	"github.com/lefinal/flipmatch/errors"
)

// UserByID retrieves the User with the given id. Credentials are managed
// elsewhere, so only id and username are read.
func (m *Mall) UserByID(ctx context.Context, userID UserID) (User, error) {
	// Build query.
	q, _, err := m.dialect.From(goqu.T("users")).
		Select(goqu.C("id"), goqu.C("username")).
		Where(goqu.C("id").Eq(userID)).ToSQL()
	if err != nil {
		return User{}, errors.NewInternalErrorFromErr(err, "query to sql", nil)
	}
	// Query.
	rows, err := m.db.Query(ctx, q)
	if err != nil {
		return User{}, errors.NewExecQueryError(err, "query db", q)
	}
	defer rows.Close()
	if !rows.Next() {
		return User{}, errors.NewResourceNotFoundError("user not found", errors.Details{"user_id": userID})
	}
	var user User
	err = rows.Scan(&user.ID, &user.Username)
	if err != nil {
		return User{}, errors.NewScanDBRowError(err, "scan row", q)
	}
	return user, nil
}
