package dialect

import (
	"context"
	"database/sql"
	"time"

	"github.com/reportmailer/internal/models"
	go_ora "github.com/sijms/go-ora/v2"
)

// Oracle keeps :name placeholders and binds by name.
type Oracle struct{}

func (Oracle) Backend() models.Backend { return models.BackendOracle }

func (Oracle) DefaultPort() int { return models.BackendOracle.DefaultPort() }

func (o Oracle) Adapt(sqlText string, params map[string]string) (string, []any) {
	return o.adaptSQL(sqlText), o.adaptParams(sqlText, params)
}

// DSN connects to the service named by DatabaseName.
func (o Oracle) DSN(conn models.DatabaseConnection) string {
	return go_ora.BuildUrl(conn.Host, conn.EffectivePort(), conn.DatabaseName, conn.User, conn.Password, nil)
}

func (o Oracle) Open(ctx context.Context, conn models.DatabaseConnection, timeout time.Duration) (*sql.DB, error) {
	dsn := o.DSN(conn)
	return openAndPing(ctx, o.Backend(), func() (*sql.DB, error) {
		return sql.Open("oracle", dsn)
	}, timeout)
}

func (Oracle) adaptSQL(sqlText string) string { return sqlText }

func (Oracle) adaptParams(sqlText string, params map[string]string) []any {
	names := ExtractParameters(sqlText)
	args := make([]any, 0, len(names))
	for _, name := range names {
		args = append(args, sql.Named(name, lookup(params, name)))
	}
	return args
}
