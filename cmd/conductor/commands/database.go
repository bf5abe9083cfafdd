package commands

import (
	"database/sql"

	"github.com/airbais/conductor/config"
	"github.com/airbais/conductor/db"
	"github.com/airbais/conductor/errors"
	"github.com/airbais/conductor/logger"
)

// openDatabase opens the configured job database and runs pending
// migrations. Pass a non-empty path to override the configured one.
func openDatabase(cfg *config.Config, pathOverride string) (*sql.DB, error) {
	path := cfg.Database.Path
	if pathOverride != "" {
		path = pathOverride
	}

	database, err := db.Open(path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	return database, nil
}
