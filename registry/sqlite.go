package registry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is the Registry backed by a SQLite file. Every operation checks out
// its own connection and returns it before the call ends, so no handle is
// shared between goroutines.
type SQLite struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at cfg.Path and applies the
// migrations.
func Open(ctx context.Context, cfg Config) (*SQLite, error) {
	if cfg.Path == "" {
		cfg.Path = "./data/vehicles.db"
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		cfg.Path,
	)
	return OpenDSN(ctx, dsn)
}

// OpenDSN opens a database from a modernc.org/sqlite DSN. Tests use it with
// in-memory databases.
func OpenDSN(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// Close releases the pool.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// DB exposes the pool for maintenance and tests.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) withConn(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()
	return fn(conn)
}

func (s *SQLite) findVehicle(ctx context.Context, query string, args ...any) (Vehicle, error) {
	var v Vehicle
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, query, args...).Scan(&v.Name, &v.Plate, &v.EncryptedTag)
	})
	if err == sql.ErrNoRows {
		return Vehicle{}, ErrNotFound
	}
	if err != nil {
		return Vehicle{}, err
	}
	return v, nil
}

func (s *SQLite) FindVehicleByPlate(ctx context.Context, plate string) (Vehicle, error) {
	v, err := s.findVehicle(ctx, `
SELECT name, plate, rfid FROM vehicle
WHERE plate = ?
ORDER BY rowid
LIMIT 1;
`, strings.TrimSpace(plate))
	if err != nil && err != ErrNotFound {
		return v, fmt.Errorf("FindVehicleByPlate: %w", err)
	}
	return v, err
}

func (s *SQLite) FindVehicleByNameAndPlate(ctx context.Context, name, plate string) (Vehicle, error) {
	v, err := s.findVehicle(ctx, `
SELECT name, plate, rfid FROM vehicle
WHERE name = ? AND plate = ?;
`, name, plate)
	if err != nil && err != ErrNotFound {
		return v, fmt.Errorf("FindVehicleByNameAndPlate: %w", err)
	}
	return v, err
}

func (s *SQLite) FindPrivateKeyByID(ctx context.Context, id string) (string, error) {
	var pem string
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, `SELECT private_key FROM key WHERE id = ?;`, id).Scan(&pem)
	})
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("FindPrivateKeyByID: %w", err)
	}
	return pem, nil
}

func (s *SQLite) PutVehicle(ctx context.Context, v Vehicle) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, `
INSERT INTO vehicle(name, plate, rfid) VALUES (?, ?, ?)
ON CONFLICT(name, plate) DO UPDATE SET rfid = excluded.rfid;
`, v.Name, v.Plate, v.EncryptedTag); err != nil {
			return fmt.Errorf("PutVehicle: %w", err)
		}
		return nil
	})
}

func (s *SQLite) PutKey(ctx context.Context, id, privateKeyPEM string) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, `
INSERT INTO key(id, private_key) VALUES (?, ?)
ON CONFLICT(id) DO UPDATE SET private_key = excluded.private_key;
`, id, privateKeyPEM); err != nil {
			return fmt.Errorf("PutKey: %w", err)
		}
		return nil
	})
}
