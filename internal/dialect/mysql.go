package dialect

import (
	"context"
	"database/sql"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/reportmailer/internal/models"
)

// MySQL binds positionally with one "?" per placeholder occurrence.
type MySQL struct{}

func (MySQL) Backend() models.Backend { return models.BackendMySQL }

func (MySQL) DefaultPort() int { return models.BackendMySQL.DefaultPort() }

func (m MySQL) Adapt(sqlText string, params map[string]string) (string, []any) {
	return m.adaptSQL(sqlText), m.adaptParams(sqlText, params)
}

func (m MySQL) DSN(conn models.DatabaseConnection, timeout time.Duration) string {
	cfg := mysql.NewConfig()
	cfg.User = conn.User
	cfg.Passwd = conn.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(conn.Host, strconv.Itoa(conn.EffectivePort()))
	cfg.DBName = conn.DatabaseName
	cfg.ParseTime = true
	cfg.Timeout = timeout
	return cfg.FormatDSN()
}

func (m MySQL) Open(ctx context.Context, conn models.DatabaseConnection, timeout time.Duration) (*sql.DB, error) {
	dsn := m.DSN(conn, timeout)
	return openAndPing(ctx, m.Backend(), func() (*sql.DB, error) {
		return sql.Open("mysql", dsn)
	}, timeout)
}

func (MySQL) adaptSQL(sqlText string) string {
	return rewritePlaceholders(sqlText, func(placeholder) string { return "?" })
}

func (MySQL) adaptParams(sqlText string, params map[string]string) []any {
	tokens := scanPlaceholders(sqlText)
	args := make([]any, 0, len(tokens))
	for _, p := range tokens {
		args = append(args, lookup(params, p.name))
	}
	return args
}
