// Package archive mirrors accepted price updates into a relational
// database for offline analytics. The archive is write-behind and
// never authoritative: the key-value store remains the source of
// truth and archive failures only surface in logs.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ugorji/go/codec"
	"go.uber.org/zap"

	// database/sql drivers
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/stelliform/go-oracled/internal/core/oracle"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var cborHandle = new(codec.CborHandle)

// Record is the self-describing payload stored per update. All
// timestamps are in seconds; prices are decimal strings.
type Record struct {
	Timestamp uint64        `codec:"timestamp" json:"timestamp"`
	Prices    []RecordPrice `codec:"prices" json:"prices"`
}

// RecordPrice is one asset quote inside a Record.
type RecordPrice struct {
	Asset string `codec:"asset" json:"asset"`
	Price string `codec:"price" json:"price"`
}

// Archive wraps the SQL mirror of the update history.
type Archive struct {
	db     *sql.DB
	driver string
	log    *zap.Logger
}

// Open connects to the archive database and ensures the schema
// exists.
func Open(driver, dsn string, log *zap.Logger) (*Archive, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unknown archive driver %q", driver)
	}
	if log == nil {
		log = zap.NewNop()
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)

	a := &Archive{db: db, driver: driver, log: log}
	if err := a.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) ensureSchema() error {
	payloadType := "BLOB"
	if a.driver == DriverPostgres {
		payloadType = "BYTEA"
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS price_updates (
		timestamp BIGINT PRIMARY KEY,
		payload %s NOT NULL
	)`, payloadType)
	if _, err := a.db.Exec(ddl); err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}
	return nil
}

// Store writes one update, replacing any previous payload for the
// same period.
func (a *Archive) Store(ctx context.Context, event oracle.UpdateEvent) error {
	record := Record{Timestamp: event.Timestamp / 1000}
	for _, ap := range event.Prices {
		record.Prices = append(record.Prices, RecordPrice{
			Asset: ap.Asset.String(),
			Price: ap.Price.String(),
		})
	}

	var payload []byte
	if err := codec.NewEncoderBytes(&payload, cborHandle).Encode(record); err != nil {
		return fmt.Errorf("failed to encode archive payload: %w", err)
	}

	query := `INSERT INTO price_updates (timestamp, payload) VALUES (?, ?)
		ON CONFLICT (timestamp) DO UPDATE SET payload = excluded.payload`
	if a.driver == DriverPostgres {
		query = `INSERT INTO price_updates (timestamp, payload) VALUES ($1, $2)
			ON CONFLICT (timestamp) DO UPDATE SET payload = excluded.payload`
	}
	if _, err := a.db.ExecContext(ctx, query, int64(record.Timestamp), payload); err != nil {
		return fmt.Errorf("failed to store archive record: %w", err)
	}
	return nil
}

// Load reads the record for a period timestamp (seconds). A missing
// period returns nil.
func (a *Archive) Load(ctx context.Context, tsSec uint64) (*Record, error) {
	query := `SELECT payload FROM price_updates WHERE timestamp = ?`
	if a.driver == DriverPostgres {
		query = `SELECT payload FROM price_updates WHERE timestamp = $1`
	}

	var payload []byte
	err := a.db.QueryRowContext(ctx, query, int64(tsSec)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load archive record: %w", err)
	}

	var record Record
	if err := codec.NewDecoderBytes(payload, cborHandle).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode archive payload: %w", err)
	}
	return &record, nil
}

// Count reports how many periods are archived.
func (a *Archive) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM price_updates`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count archive records: %w", err)
	}
	return count, nil
}

// PublishUpdate implements oracle.EventSink. The write happens on a
// background goroutine so a slow database never stalls the feed.
func (a *Archive) PublishUpdate(event oracle.UpdateEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Store(ctx, event); err != nil {
			a.log.Warn("archive write failed",
				zap.Uint64("timestamp", event.Timestamp/1000),
				zap.Error(err))
		}
	}()
}

// Close releases the database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}
