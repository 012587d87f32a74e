// Package pgindex is the durable Index (C1) backed by PostgreSQL.
package pgindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tinoosan/streamctl/internal/data"
	"github.com/tinoosan/streamctl/internal/index"
)

// Index implements index.Index backed by a `downloads` table.
type Index struct {
	db *sql.DB
}

var _ index.Index = (*Index)(nil)

// New constructs an Index using the provided DSN, verifies
// connectivity, and ensures the schema exists.
func New(dsn string) (*Index, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	idx := &Index{db: db}
	if err := idx.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

// NewFromEnv builds a DSN from component env vars, matching the
// teacher's POSTGRES_* convention.
//
//	POSTGRES_HOST (postgres), POSTGRES_PORT (5432), POSTGRES_DB (streamctl),
//	POSTGRES_USER (streamctl), POSTGRES_PASSWORD (empty), POSTGRES_SSLMODE (disable)
func NewFromEnv() (*Index, error) {
	host := getenv("POSTGRES_HOST", "postgres")
	port := getenv("POSTGRES_PORT", "5432")
	db := getenv("POSTGRES_DB", "streamctl")
	user := getenv("POSTGRES_USER", "streamctl")
	pass := getenv("POSTGRES_PASSWORD", "")
	ssl := getenv("POSTGRES_SSLMODE", "disable")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + db,
	}
	q := url.Values{}
	q.Set("sslmode", ssl)
	u.RawQuery = q.Encode()
	return New(u.String())
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func (idx *Index) Close() error { return idx.db.Close() }

func (idx *Index) ensureSchema(ctx context.Context) error {
	_, err := idx.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS downloads (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL DEFAULT '',
	uri TEXT NOT NULL DEFAULT '',
	cache_key TEXT NOT NULL DEFAULT '',
	stream_keys JSONB,
	custom_metadata BYTEA,
	state TEXT NOT NULL,
	failure_reason INTEGER NOT NULL DEFAULT 0,
	not_met_requirements INTEGER NOT NULL DEFAULT 0,
	manual_stop_reason INTEGER NOT NULL DEFAULT 0,
	start_time_ms BIGINT NOT NULL DEFAULT 0,
	update_time_ms BIGINT NOT NULL DEFAULT 0,
	bytes_downloaded BIGINT NOT NULL DEFAULT 0,
	bytes_total BIGINT NOT NULL DEFAULT -1
);
`)
	return err
}

const selectColumns = `id, type, uri, cache_key, stream_keys, custom_metadata, state, failure_reason, not_met_requirements, manual_stop_reason, start_time_ms, update_time_ms, bytes_downloaded, bytes_total`

type rowScanner interface{ Scan(dest ...any) error }

func scanRecord(rs rowScanner) (data.DownloadRecord, error) {
	var (
		rec           data.DownloadRecord
		streamKeysRaw sql.NullString
	)
	if err := rs.Scan(
		&rec.ID, &rec.Type, &rec.URI, &rec.CacheKey, &streamKeysRaw, &rec.CustomMetadata,
		&rec.State, &rec.FailureReason, &rec.NotMetRequirements, &rec.ManualStopReason,
		&rec.StartTimeMs, &rec.UpdateTimeMs, &rec.Counters.BytesDownloaded, &rec.Counters.BytesTotal,
	); err != nil {
		return data.DownloadRecord{}, err
	}
	if streamKeysRaw.Valid && streamKeysRaw.String != "" {
		_ = json.Unmarshal([]byte(streamKeysRaw.String), &rec.StreamKeys)
	}
	return rec, nil
}

func (idx *Index) Get(ctx context.Context, id string) (data.DownloadRecord, error) {
	row := idx.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM downloads WHERE id=$1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return data.DownloadRecord{}, data.ErrNotFound
		}
		return data.DownloadRecord{}, err
	}
	return rec, nil
}

func (idx *Index) List(ctx context.Context, states ...data.State) ([]data.DownloadRecord, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(states))
	args := make([]any, len(states))
	for i, s := range states {
		placeholders[i] = "$" + itoa(i+1)
		args[i] = string(s)
	}
	q := `SELECT ` + selectColumns + ` FROM downloads WHERE state IN (` + strings.Join(placeholders, ",") + `) ORDER BY start_time_ms ASC`
	rows, err := idx.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []data.DownloadRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func itoa(i int) string {
	// small enough that a manual conversion beats importing strconv for one call site
	digits := "0123456789"
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{digits[i%10]}, b...)
		i /= 10
	}
	return string(b)
}

func (idx *Index) Put(ctx context.Context, rec data.DownloadRecord) error {
	streamKeysJSON, _ := json.Marshal(rec.StreamKeys)
	_, err := idx.db.ExecContext(ctx, `
INSERT INTO downloads (`+selectColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET
	type=EXCLUDED.type, uri=EXCLUDED.uri, cache_key=EXCLUDED.cache_key,
	stream_keys=EXCLUDED.stream_keys, custom_metadata=EXCLUDED.custom_metadata,
	state=EXCLUDED.state, failure_reason=EXCLUDED.failure_reason,
	not_met_requirements=EXCLUDED.not_met_requirements, manual_stop_reason=EXCLUDED.manual_stop_reason,
	start_time_ms=EXCLUDED.start_time_ms, update_time_ms=EXCLUDED.update_time_ms,
	bytes_downloaded=EXCLUDED.bytes_downloaded, bytes_total=EXCLUDED.bytes_total`,
		rec.ID, rec.Type, rec.URI, rec.CacheKey, nullJSON(streamKeysJSON), rec.CustomMetadata,
		string(rec.State), rec.FailureReason, rec.NotMetRequirements, rec.ManualStopReason,
		rec.StartTimeMs, rec.UpdateTimeMs, rec.Counters.BytesDownloaded, rec.Counters.BytesTotal,
	)
	return err
}

func (idx *Index) Delete(ctx context.Context, id string) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM downloads WHERE id=$1`, id)
	return err
}

func (idx *Index) SetManualStopReason(ctx context.Context, reason int) error {
	_, err := idx.db.ExecContext(ctx, `UPDATE downloads SET manual_stop_reason=$1`, reason)
	return err
}

func (idx *Index) SetManualStopReasonByID(ctx context.Context, id string, reason int) error {
	res, err := idx.db.ExecContext(ctx, `UPDATE downloads SET manual_stop_reason=$1 WHERE id=$2`, reason, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return data.ErrNotFound
	}
	return nil
}

func nullJSON(b []byte) any {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return string(b)
}
