package database

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dnldd/reversal/position"
	rqlitehttp "github.com/rqlite/rqlite-go-http"
	"github.com/rs/zerolog"
)

const (
	// SQL statements.
	createPositionTableSQL   = "CREATE TABLE IF NOT EXISTS position (id TEXT PRIMARY KEY, instrument TEXT, signal TEXT, direction TEXT, stoploss REAL, pnlpercent REAL, entryprice REAL, exitprice REAL, status TEXT, createdon INTEGER, closedon INTEGER)"
	createSummaryTableSQL    = "CREATE TABLE IF NOT EXISTS summary (id TEXT PRIMARY KEY, instrument TEXT, session TEXT, total INTEGER, wins INTEGER, winpercent REAL, losses INTEGER, losspercent REAL, createdon INTEGER)"
	persistClosedPositionSQL = "INSERT INTO position(id, instrument, signal, direction, stoploss, pnlpercent, entryprice, exitprice, status, createdon, closedon) VALUES(?,?,?,?,?,?,?,?,?,?,?)"
	upsertSummarySQL         = "INSERT INTO summary(id, instrument, session, total, wins, winpercent, losses, losspercent, createdon) VALUES(?,?,?,?,?,?,?,?,?) ON CONFLICT(id) DO UPDATE SET total = total + 1, wins = wins + excluded.wins, winpercent = winpercent + excluded.winpercent, losses = losses + excluded.losses, losspercent = losspercent + excluded.losspercent"

	// sessionLayout is the format layout of session dates.
	sessionLayout = "2006-01-02"
)

// PositionStorer defines the requirements for storing positions.
type PositionStorer interface {
	// PersistClosedPosition stores the provided closed position to the database.
	PersistClosedPosition(ctx context.Context, position *position.Position) error
}

// DatabaseConfig is the configuration for the database.
type DatabaseConfig struct {
	// Endpoint represents the database connection endpoint.
	Endpoint string
	// User is the database user.
	User string
	// Pass is the database user pass.
	Pass string
	// Location is the locality used to group positions into sessions.
	Location *time.Location
	// Logger is the database logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *DatabaseConfig) Validate() error {
	var errs error

	if cfg.Endpoint == "" {
		errs = errors.Join(errs, fmt.Errorf("database endpoint cannot be empty"))
	}
	if cfg.Location == nil {
		errs = errors.Join(errs, fmt.Errorf("location cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Database represents the journal of closed positions.
type Database struct {
	cfg    *DatabaseConfig
	client *rqlitehttp.Client
}

// Ensure the database implements the PositionStorer interface.
var _ PositionStorer = (*Database)(nil)

// NewDatabase initializes a new database connection.
func NewDatabase(ctx context.Context, cfg *DatabaseConfig) (*Database, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating database config: %w", err)
	}

	httpc := &http.Client{Timeout: time.Second * 5}
	client, err := rqlitehttp.NewClient(cfg.Endpoint, httpc)
	if err != nil {
		return nil, fmt.Errorf("creating database client: %w", err)
	}

	if cfg.User != "" {
		client.SetBasicAuth(cfg.User, cfg.Pass)
	}

	db := &Database{
		cfg:    cfg,
		client: client,
	}

	err = db.bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping database: %w", err)
	}

	return db, nil
}

// bootstrap initializes the database.
func (db *Database) bootstrap(ctx context.Context) error {
	resp, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{SQL: createSummaryTableSQL},
		{SQL: createPositionTableSQL},
	}, &rqlitehttp.ExecuteOptions{
		Transaction: true,
		Timings:     true,
	})
	if err != nil {
		return err
	}

	has, idx, errStr := resp.HasError()
	if has {
		return fmt.Errorf("creating tables: %d -> %s", idx, errStr)
	}

	return nil
}

// generateSummaryID generates deterministic summary ids using the session date and
// instrument.
func generateSummaryID(session string, instrument string) string {
	return fmt.Sprintf("%s-%s", session, instrument)
}

// outcome represents the contribution of a closed position to its session summary.
type outcome struct {
	wins        int
	winPercent  float64
	losses      int
	lossPercent float64
}

// positionOutcome derives the summary contribution of the provided closed position. Break even
// positions count towards neither wins nor losses.
func positionOutcome(pos *position.Position) outcome {
	var out outcome
	switch {
	case pos.PNLPercent > 0:
		out.wins = 1
		out.winPercent = pos.PNLPercent
	case pos.PNLPercent < 0:
		out.losses = 1
		out.lossPercent = pos.PNLPercent
	}

	return out
}

// PersistClosedPosition stores the provided closed position to the database and updates the
// summary of its session.
func (db *Database) PersistClosedPosition(ctx context.Context, pos *position.Position) error {
	if pos == nil {
		return fmt.Errorf("position cannot be nil")
	}
	if pos.Status == position.Active {
		db.cfg.Logger.Error().Msgf("unexpected active position provided for persistence: %s", spew.Sdump(pos))
		return fmt.Errorf("position %s is still active", pos.ID)
	}

	resp, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: persistClosedPositionSQL,
			PositionalParams: []any{pos.ID, pos.Instrument, pos.Signal.String(), pos.Direction.String(),
				pos.StopLoss, pos.PNLPercent, pos.EntryPrice, pos.ExitPrice, pos.Status.String(),
				pos.CreatedOn, pos.ClosedOn},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return err
	}
	has, idx, errStr := resp.HasError()
	if has {
		return fmt.Errorf("persisting position %s: %d -> %s", pos.ID, idx, errStr)
	}

	out := positionOutcome(pos)
	session := time.Unix(int64(pos.ClosedOn), 0).In(db.cfg.Location).Format(sessionLayout)
	id := generateSummaryID(session, pos.Instrument)

	resp, err = db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: upsertSummarySQL,
			PositionalParams: []any{id, pos.Instrument, session, 1, out.wins, out.winPercent,
				out.losses, out.lossPercent, time.Now().Unix()},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return err
	}
	has, idx, errStr = resp.HasError()
	if has {
		return fmt.Errorf("updating summary %s: %d -> %s", id, idx, errStr)
	}

	return nil
}
