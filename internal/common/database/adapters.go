package database

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
)

// PostgresPoolAdapter implements Pool over a pgx connection pool.
type PostgresPoolAdapter struct {
	*pgxpool.Pool
}

func (p PostgresPoolAdapter) Acquire(ctx context.Context) (Conn, error) {
	conn, err := p.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return PostgresConnAdapter{Conn: conn}, nil
}

func (p PostgresPoolAdapter) Stat() PoolStats {
	stat := p.Pool.Stat()
	return PoolStats{
		AcquireCount:  stat.AcquireCount(),
		AcquiredConns: stat.AcquiredConns(),
		IdleConns:     stat.IdleConns(),
		TotalConns:    stat.TotalConns(),
		MaxConns:      stat.MaxConns(),
	}
}

type PostgresConnAdapter struct {
	*pgxpool.Conn
}

func (c PostgresConnAdapter) Prepare(ctx context.Context, name string, sql string) error {
	_, err := c.Conn.Conn().Prepare(ctx, name, sql)
	return err
}

func (c PostgresConnAdapter) Query(ctx context.Context, name string, args ...interface{}) (Rows, error) {
	return c.Conn.Query(ctx, name, args...)
}
