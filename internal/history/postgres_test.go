package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PhucNguyen204/netwatch/internal/models"
)

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db), mock
}

var resultColumns = []string{
	"scan_id", "scanned_at", "ip", "remote_port", "country", "provider", "organization", "city", "lat", "lon",
	"pid", "process", "process_path", "is_signed", "is_risky", "is_suspicious", "suspicion_reason",
	"connection_score", "process_score", "reasons",
}

func TestPostgres_Migrate(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS scan_results`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_scan_results_scanned_at`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_scan_results_scan_id`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_scan_results_benign_process`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, p.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendInTransaction(t *testing.T) {
	p, mock := newMock(t)
	at := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	r := models.ScanResult{
		ScanID: "6f1c", Timestamp: at, IP: "45.13.37.1", RemotePort: 1337, Country: "ShadyLand",
		PID: 4242, Process: "a8f3k.exe", ProcessPath: `C:\Temp\a8f3k.exe`,
		IsRisky: true, IsSuspicious: true, SuspicionReason: "Risky country", ConnectionScore: -100,
		ProcessScore: -75, Reasons: []string{"Risky country"},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO scan_results`)
	prep.ExpectExec().WithArgs("6f1c", at, "45.13.37.1", int64(1337), "ShadyLand", "", "", "", 0.0, 0.0,
		int64(4242), "a8f3k.exe", `C:\Temp\a8f3k.exe`, false, true, true, "Risky country", -100, -75, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, p.Append(context.Background(), []models.ScanResult{r}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendRollsBack(t *testing.T) {
	p, mock := newMock(t)
	boom := errors.New("disk full")
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO scan_results`)
	prep.ExpectExec().WillReturnError(boom)
	mock.ExpectRollback()

	err := p.Append(context.Background(), []models.ScanResult{{IP: "1.1.1.1", Timestamp: time.Now()}})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendEmptyIsNoop(t *testing.T) {
	p, mock := newMock(t)
	require.NoError(t, p.Append(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_List(t *testing.T) {
	p, mock := newMock(t)
	at := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(resultColumns).
		AddRow("s1", at, "45.13.37.1", int64(1337), "Iran", "ISP", "Org", "Tehran", 35.6, 51.3,
			int64(9001), "x.exe", `C:\Temp\x.exe`, false, true, true, "Risky country", int64(-100), int64(-75),
			`{"Risky country","Unsigned executable"}`)
	mock.ExpectQuery(`SELECT scan_id, scanned_at`).WithArgs(int64(10)).WillReturnRows(rows)

	out, err := p.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, uint32(1337), out[0].RemotePort)
	assert.Equal(t, int32(9001), out[0].PID)
	assert.Equal(t, -100, out[0].ConnectionScore)
	assert.Equal(t, []string{"Risky country", "Unsigned executable"}, out[0].Reasons)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_NonRiskyCounts(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(`SELECT lower\(process\), count\(\*\) FROM scan_results`).
		WillReturnRows(sqlmock.NewRows([]string{"lower", "count"}).AddRow("chrome.exe", int64(7)).AddRow("code.exe", int64(2)))

	counts, err := p.NonRiskyCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"chrome.exe": 7, "code.exe": 2}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Clear(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectExec(`DELETE FROM scan_results`).WillReturnResult(sqlmock.NewResult(0, 3))
	require.NoError(t, p.Clear(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
