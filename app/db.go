package app

import (
	"context"
	nativeerrors "errors"
	"fmt"
	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/lefinal/flipmatch/embedded"
	"github.com/lefinal/flipmatch/errors"
	"go.uber.org/zap"
)

// defaultMaxDBConnections is the maximum number of database connections.
const defaultMaxDBConnections = 16

// keyValTable is the table for internal key-value information.
const keyValTable = "flipmatch"

// dbVersion is used for determining the current database version. This is saved
// in keyValTable when properly set up. If the version does not exist, one can
// know that the database needs to be initialized. If it is and the latest
// version is greater, migrations can be performed.
type dbVersion string

// dbVersionZero is used when no database version could be found, and therefore
// we conclude that it has not been initialized yet.
const dbVersionZero dbVersion = "0"

// dbMigration is used for performing and checking database migrations. They lie
// in dbMigrations which is an ordered list of versions with their migrations.
type dbMigration struct {
	version dbVersion
	up      string
}

// dbMigrations are the sql migrations in an ordered (!) list. The order is used
// to determine which migrations need to be done when the current database
// version is not the latest one.
var dbMigrations = []dbMigration{
	{
		version: "1.0",
		up:      embedded.DBMigration1x0,
	},
}

// connectDB connects to the database with the given connection string, performs
// migrations and returns the connection pool.
func connectDB(ctx context.Context, logger *zap.Logger, connectionStr string, maxDBConnections int32) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connectionStr)
	if err != nil {
		return nil, errors.Error{
			Code:    errors.ErrFatal,
			Kind:    errors.KindDB,
			Err:     err,
			Message: "parse db connection string",
		}
	}
	poolConfig.MaxConns = maxDBConnections
	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Error{
			Code:    errors.ErrFatal,
			Kind:    errors.KindDB,
			Err:     err,
			Message: "connect to database",
		}
	}
	// Perform test query.
	err = testDBConnection(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "test db connection", nil)
	}
	// Perform db migrations.
	err = performDBMigrations(ctx, logger, pool)
	if err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "perform db migrations", nil)
	}
	return pool, nil
}

// testDBConnection tests the database connection by simply querying 1.
func testDBConnection(ctx context.Context, db *pgxpool.Pool) error {
	// Build test query.
	q, _, err := goqu.Dialect("postgres").Select(goqu.V(1)).ToSQL()
	if err != nil {
		return errors.NewInternalErrorFromErr(err, "test query to sql", nil)
	}
	// Query database.
	var got int
	err = db.QueryRow(ctx, q).Scan(&got)
	if err != nil {
		return errors.NewScanDBRowError(err, "test query failed", q)
	}
	// Assure that we got 1.
	if got != 1 {
		return errors.Error{
			Code:    errors.ErrFatal,
			Kind:    errors.KindDB,
			Message: fmt.Sprintf("test db connection: expected 1 as result but got %d", got),
			Details: errors.Details{"got": got},
		}
	}
	return nil
}

// performDBMigrations performs all needed database migrations according to the
// (un)set database version. Migrations and the version update are done in one
// transaction.
func performDBMigrations(ctx context.Context, logger *zap.Logger, db *pgxpool.Pool) error {
	currentVersion, err := retrieveCurrentDBVersion(ctx, db)
	if err != nil {
		return errors.Wrap(err, "retrieve current db version", nil)
	}
	logger.Info("current database version", zap.Any("version", currentVersion))
	migrationsToDo, err := getDBMigrationsToDo(currentVersion)
	if err != nil {
		return errors.Wrap(err, "get db migrations to do", nil)
	}
	// Check if migrations need to be performed.
	if len(migrationsToDo) == 0 {
		return nil
	}
	// Begin tx for avoiding database destruction if something fails.
	tx, err := db.Begin(ctx)
	if err != nil {
		return errors.NewDBTxBeginError(err)
	}
	defer rollbackTx(logger, tx, "database migration failed")
	// Perform migrations.
	var newVersion dbVersion
	for i, migration := range migrationsToDo {
		logger.Info(fmt.Sprintf("performing database migration %d/%d...", i+1, len(migrationsToDo)))
		_, err = tx.Exec(ctx, migration.up)
		if err != nil {
			return errors.NewExecQueryError(err, fmt.Sprintf("migrate to %v", migration.version), migration.up)
		}
		newVersion = migration.version
	}
	// Update database version.
	var updateDBVersionQuery string
	if currentVersion == dbVersionZero {
		updateDBVersionQuery, _, err = goqu.Dialect("postgres").Insert(goqu.T(keyValTable)).Rows(goqu.Record{
			"key":   "db-version",
			"value": newVersion,
		}).ToSQL()
	} else {
		updateDBVersionQuery, _, err = goqu.Dialect("postgres").Update(goqu.T(keyValTable)).
			Set(goqu.Record{"value": newVersion}).
			Where(goqu.C("key").Eq("db-version")).ToSQL()
	}
	if err != nil {
		return errors.NewInternalErrorFromErr(err, "update db version query to sql", nil)
	}
	_, err = tx.Exec(ctx, updateDBVersionQuery)
	if err != nil {
		return errors.NewExecQueryError(err, "update db version", updateDBVersionQuery)
	}
	// Commit tx.
	err = tx.Commit(ctx)
	if err != nil {
		return errors.NewDBTxCommitError(err)
	}
	logger.Info("database migrated", zap.Any("version", newVersion))
	return nil
}

// getDBMigrationsToDo retrieves all database migrations that need to be
// performed. If the version is dbVersionZero, it will return all migrations. If
// the version is unknown, an error will be returned.
func getDBMigrationsToDo(currentVersion dbVersion) ([]dbMigration, error) {
	// Check if empty version.
	if currentVersion == dbVersionZero {
		return dbMigrations, nil
	}
	found := false
	migrationsToDo := make([]dbMigration, 0)
	for _, migration := range dbMigrations {
		if migration.version == currentVersion {
			if found {
				return nil, errors.Error{
					Code:    errors.ErrInternal,
					Kind:    errors.KindShouldNotHappen,
					Message: fmt.Sprintf("duplicate database version %v in available migrations", currentVersion),
					Details: errors.Details{"version": currentVersion},
				}
			}
			found = true
			// Everything for this version was already performed.
			continue
		}
		if found {
			migrationsToDo = append(migrationsToDo, migration)
		}
	}
	if !found {
		return nil, errors.NewResourceNotFoundError(fmt.Sprintf("no database version found matching %v", currentVersion),
			errors.Details{"version": currentVersion})
	}
	return migrationsToDo, nil
}

// retrieveCurrentDBVersion retrieves the current dbVersion from the given
// database. If no version could be found, dbVersionZero will be returned.
func retrieveCurrentDBVersion(ctx context.Context, db *pgxpool.Pool) (dbVersion, error) {
	versionStr, err := retrieveKeyValFromDB(ctx, db, "db-version")
	if err != nil {
		if errors.HasCode(err, errors.ErrNotFound) {
			return dbVersionZero, nil
		}
		return "", errors.Wrap(err, "retrieve key val from db", nil)
	}
	return dbVersion(versionStr), nil
}

// retrieveKeyValFromDB retrieves the value for the given key from the given
// database. A missing key-value table is treated as not found.
func retrieveKeyValFromDB(ctx context.Context, db *pgxpool.Pool, key string) (string, error) {
	q, _, err := goqu.Dialect("postgres").From(goqu.T(keyValTable)).
		Select(goqu.C("value")).
		Where(goqu.C("key").Eq(key)).ToSQL()
	if err != nil {
		return "", errors.NewInternalErrorFromErr(err, "key val query to sql", errors.Details{"key": key})
	}
	var value string
	err = db.QueryRow(ctx, q).Scan(&value)
	if err != nil {
		// Check if error is because relation does not exist as then it's a not-found
		// error.
		var pgErr *pgconn.PgError
		if nativeerrors.As(err, &pgErr) && pgErr.Code == "42P01" {
			return "", errors.NewResourceNotFoundError("key-value relation not found", errors.Details{"key": key})
		}
		if nativeerrors.Is(err, pgx.ErrNoRows) {
			return "", errors.NewResourceNotFoundError(fmt.Sprintf("no entry with key %s found", key),
				errors.Details{"key": key})
		}
		return "", errors.NewScanDBRowError(err, "scan key val", q)
	}
	return value, nil
}

// rollbackTx rolls back the given pgx.Tx if it was not committed. Errors are
// logged with the reason.
func rollbackTx(logger *zap.Logger, tx pgx.Tx, reason string) {
	err := tx.Rollback(context.Background())
	if err != nil && !nativeerrors.Is(err, pgx.ErrTxClosed) {
		errors.Log(logger, errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindDBRollback,
			Message: "rollback tx",
			Err:     err,
			Details: errors.Details{"rollbackReason": reason},
		})
	}
}
