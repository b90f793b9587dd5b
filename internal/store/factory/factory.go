package factory

import (
	"fmt"
	"strings"

	"github.com/loykin/mcconsole/internal/store"
	"github.com/loykin/mcconsole/internal/store/postgres"
	"github.com/loykin/mcconsole/internal/store/sqlite"
)

// Open creates a Store for the configured driver. Supported drivers are
// "sqlite" (DSN is a file path, ":memory:" allowed) and "postgres".
func Open(driver, dsn string) (store.Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		return sqlite.New(dsn)
	case "postgres", "postgresql":
		return postgres.New(dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}
