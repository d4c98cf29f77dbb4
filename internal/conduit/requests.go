package conduit

import (
	"context"
	"time"

	"github.com/jackc/pgtype"
	"github.com/pkg/errors"

	"github.com/G-Research/conduit/internal/common/database"
)

// ServerInfo describes the database a client is connected to.
type ServerInfo struct {
	Time     time.Time `json:"time"`
	Version  string    `json:"version"`
	Database string    `json:"database"`
}

type serverInfoRequest struct{}

func (serverInfoRequest) Statement() string {
	return "SELECT now(), version(), current_database()"
}

func (serverInfoRequest) Params() []interface{} {
	return nil
}

func (serverInfoRequest) ScanRow(row database.Row) (ServerInfo, error) {
	var now pgtype.Timestamptz
	var version, dbname pgtype.Text
	if err := row.Scan(&now, &version, &dbname); err != nil {
		return ServerInfo{}, err
	}
	return ServerInfo{Time: now.Time, Version: version.String, Database: dbname.String}, nil
}

// FetchServerInfo runs a round trip through client, preparing and caching the statement like any other request.
func FetchServerInfo(ctx context.Context, client *database.Client) (ServerInfo, error) {
	rows, err := database.Execute[ServerInfo](ctx, client, serverInfoRequest{})
	if err != nil {
		return ServerInfo{}, err
	}
	if len(rows) != 1 {
		return ServerInfo{}, errors.Errorf("expected one row of server info, got %d", len(rows))
	}
	return rows[0], nil
}
