// Package dialect hides the connection, placeholder and binding differences
// between the supported source backends.
package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/reportmailer/internal/models"
)

// Adapter is the per-backend capability used by the query runner.
type Adapter interface {
	Backend() models.Backend
	DefaultPort() int

	// Open returns a single-connection handle that has already answered a
	// ping within timeout. Failures are *ConnectionError.
	Open(ctx context.Context, conn models.DatabaseConnection, timeout time.Duration) (*sql.DB, error)

	// Adapt rewrites :name placeholders into the backend's marker style and
	// returns the matching argument list. Names missing from params bind nil;
	// params absent from the statement are ignored.
	Adapt(sqlText string, params map[string]string) (string, []any)
}

// ConnectionError reports a failure to reach or authenticate to a source.
type ConnectionError struct {
	Backend models.Backend
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Backend, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

var adapters = map[models.Backend]Adapter{
	models.BackendMySQL:    MySQL{},
	models.BackendPostgres: Postgres{},
	models.BackendOracle:   Oracle{},
}

// For returns the adapter for backend.
func For(backend models.Backend) (Adapter, error) {
	a, ok := adapters[backend]
	if !ok {
		return nil, fmt.Errorf("unsupported backend %q", backend)
	}
	return a, nil
}

// openAndPing opens a handle restricted to one connection and checks it is
// reachable. The handle is closed on failure.
func openAndPing(ctx context.Context, backend models.Backend, open func() (*sql.DB, error), timeout time.Duration) (*sql.DB, error) {
	db, err := open()
	if err != nil {
		return nil, &ConnectionError{Backend: backend, Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, &ConnectionError{Backend: backend, Err: err}
	}
	return db, nil
}
