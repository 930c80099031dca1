package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/reportmailer/internal/models"
)

// Postgres binds positionally with $k, where k is the placeholder's index in
// first-appearance order; repeated names reuse their marker.
type Postgres struct{}

func (Postgres) Backend() models.Backend { return models.BackendPostgres }

func (Postgres) DefaultPort() int { return models.BackendPostgres.DefaultPort() }

func (p Postgres) Adapt(sqlText string, params map[string]string) (string, []any) {
	return p.adaptSQL(sqlText), p.adaptParams(sqlText, params)
}

func (p Postgres) DSN(conn models.DatabaseConnection, timeout time.Duration) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(conn.User, conn.Password),
		Host:   net.JoinHostPort(conn.Host, strconv.Itoa(conn.EffectivePort())),
		Path:   "/" + conn.DatabaseName,
	}
	q := url.Values{}
	if timeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(math.Max(1, math.Ceil(timeout.Seconds())))))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (p Postgres) Open(ctx context.Context, conn models.DatabaseConnection, timeout time.Duration) (*sql.DB, error) {
	dsn := p.DSN(conn, timeout)
	return openAndPing(ctx, p.Backend(), func() (*sql.DB, error) {
		cfg, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse dsn: %w", err)
		}
		return stdlib.OpenDB(*cfg), nil
	}, timeout)
}

func (Postgres) adaptSQL(sqlText string) string {
	index := make(map[string]int)
	return rewritePlaceholders(sqlText, func(ph placeholder) string {
		k, ok := index[ph.name]
		if !ok {
			k = len(index) + 1
			index[ph.name] = k
		}
		return "$" + strconv.Itoa(k)
	})
}

func (Postgres) adaptParams(sqlText string, params map[string]string) []any {
	names := ExtractParameters(sqlText)
	args := make([]any, 0, len(names))
	for _, name := range names {
		args = append(args, lookup(params, name))
	}
	return args
}
