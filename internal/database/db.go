package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/smukkama/plant-monitor/internal/protocol"
)

//go:embed migrations
var migrations embed.FS

// DB wraps the database connection
type DB struct {
	*sql.DB
	driver string
}

// Connect establishes a connection to the database. driver is "sqlite3" or
// "postgres".
func Connect(driver, dataSourceName string) (*DB, error) {
	db, err := sql.Open(driver, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}

	return &DB{DB: db, driver: driver}, nil
}

// Driver returns the sql driver name the connection was opened with.
func (db *DB) Driver() string {
	return db.driver
}

// RunMigrations executes the embedded SQL migrations for the driver in order
func (db *DB) RunMigrations(logger *slog.Logger) error {
	dir := path.Join("migrations", db.driver)
	files, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	// Filter and sort SQL files
	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		logger.Info("running_migration", "file", filename)

		content, err := fs.ReadFile(migrations, path.Join(dir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	return nil
}

// InsertReading appends one fully populated reading to sensor_data
func (db *DB) InsertReading(ctx context.Context, r protocol.Reading) error {
	if !r.Complete() {
		return fmt.Errorf("refusing to insert partial reading: missing %v", r.Missing())
	}

	query := `
		INSERT INTO sensor_data (timestamp, soil_moisture, temperature, light)
		VALUES ($1, $2, $3, $4)
	`
	_, err := db.ExecContext(ctx, query,
		r.Timestamp.UTC(),
		*r.SoilMoisture,
		*r.Temperature,
		*r.Light,
	)
	return err
}

// QueryReadings returns readings at or after since (all when nil), oldest first
func (db *DB) QueryReadings(ctx context.Context, since *time.Time) ([]protocol.Reading, error) {
	query := `
		SELECT timestamp, soil_moisture, temperature, light
		FROM sensor_data
	`
	var args []interface{}
	if since != nil {
		query += ` WHERE timestamp >= $1`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY timestamp ASC, id ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []protocol.Reading
	for rows.Next() {
		var (
			ts                    time.Time
			moisture, temp, light float64
		)
		if err := rows.Scan(&ts, &moisture, &temp, &light); err != nil {
			return nil, err
		}
		readings = append(readings, protocol.Reading{
			Timestamp:    ts,
			SoilMoisture: protocol.Float(moisture),
			Temperature:  protocol.Float(temp),
			Light:        protocol.Float(light),
		})
	}

	return readings, rows.Err()
}

// LatestTimestamp returns the timestamp of the newest stored reading.
// ok is false when the table is empty.
func (db *DB) LatestTimestamp(ctx context.Context) (ts time.Time, ok bool, err error) {
	query := `
		SELECT timestamp
		FROM sensor_data
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`
	err = db.QueryRowContext(ctx, query).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}
