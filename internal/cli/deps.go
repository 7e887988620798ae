package cli

import (
	"database/sql"
	"os"

	"quartermaster/internal/config"
	"quartermaster/internal/db"
)

// Function variables for dependency injection in tests.
var (
	osStat             = os.Stat
	osMkdirAll         = os.MkdirAll
	configWriteDefault = config.WriteDefault
	configLoad         = config.Load
	dbConnect          = func(url string) (*sql.DB, error) { return db.Connect(url) }
)
