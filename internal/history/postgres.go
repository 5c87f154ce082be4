package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/PhucNguyen204/netwatch/internal/models"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const insertResult = `INSERT INTO scan_results(scan_id, scanned_at, ip, remote_port, country, provider, organization, city, lat, lon,
    pid, process, process_path, is_signed, is_risky, is_suspicious, suspicion_reason, connection_score, process_score, reasons)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`

const selectResults = `SELECT scan_id, scanned_at, ip, remote_port, country, provider, organization, city, lat, lon,
    pid, process, process_path, is_signed, is_risky, is_suspicious, suspicion_reason, connection_score, process_score, reasons
FROM scan_results ORDER BY scanned_at DESC, id DESC LIMIT $1`

// Postgres stores history in the scan_results table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// OpenPostgres connects with lib/pq and applies the embedded migrations.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres history: empty dsn")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres history: %w", err)
	}
	p := NewPostgres(db)
	if err := p.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// Migrate runs every embedded .sql file in lexicographic order, one
// ';'-separated statement at a time.
func (p *Postgres) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for _, name := range names {
		b, err := migrationFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		for _, chunk := range strings.Split(string(b), ";") {
			stmt := strings.TrimSpace(chunk)
			if stmt == "" {
				continue
			}
			if _, err := p.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("exec migration %s: %w", name, err)
			}
		}
	}
	return nil
}

func (p *Postgres) Append(ctx context.Context, results []models.ScanResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insertResult)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, r := range results {
		reasons := r.Reasons
		if reasons == nil {
			reasons = []string{}
		}
		if _, err := stmt.ExecContext(ctx, r.ScanID, r.Timestamp.UTC(), r.IP, int64(r.RemotePort), r.Country, r.Provider,
			r.Organization, r.City, r.Lat, r.Lon, int64(r.PID), r.Process, r.ProcessPath, r.IsSigned, r.IsRisky,
			r.IsSuspicious, r.SuspicionReason, r.ConnectionScore, r.ProcessScore, pq.Array(reasons)); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert scan result %s: %w", r.IP, err)
		}
	}
	return tx.Commit()
}

func (p *Postgres) List(ctx context.Context, limit int) ([]models.ScanResult, error) {
	lim := sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
	rows, err := p.db.QueryContext(ctx, selectResults, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ScanResult
	for rows.Next() {
		var r models.ScanResult
		var port, pid int64
		if err := rows.Scan(&r.ScanID, &r.Timestamp, &r.IP, &port, &r.Country, &r.Provider, &r.Organization, &r.City,
			&r.Lat, &r.Lon, &pid, &r.Process, &r.ProcessPath, &r.IsSigned, &r.IsRisky, &r.IsSuspicious,
			&r.SuspicionReason, &r.ConnectionScore, &r.ProcessScore, pq.Array(&r.Reasons)); err != nil {
			return nil, err
		}
		r.RemotePort = uint32(port)
		r.PID = int32(pid)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) NonRiskyCounts(ctx context.Context) (map[string]int, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT lower(process), count(*) FROM scan_results
WHERE NOT is_risky AND process <> '' GROUP BY lower(process)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}

func (p *Postgres) Clear(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM scan_results`)
	return err
}

func (p *Postgres) Close() error { return p.db.Close() }
