package controller

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines controller persistence.
type Repository interface {
	// GetByID returns ErrControllerNotFound if the controller does not exist.
	GetByID(ctx context.Context, id string) (*Controller, error)

	// List returns all controllers ordered by name.
	List(ctx context.Context) ([]Controller, error)

	// Create returns ErrControllerExists on a duplicate ID or host:port.
	Create(ctx context.Context, c *Controller) error

	// Update replaces the editable fields. Status is left alone.
	Update(ctx context.Context, c *Controller) error

	// Delete returns ErrControllerNotFound if the controller does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateStatus records the latest session state. lastOnline is written
	// only when non-nil.
	UpdateStatus(ctx context.Context, id string, status Status, lastOnline *time.Time) error
}

// SQLiteRepository implements Repository using SQLite. Passwords are
// stored sealed by a SecretBox.
type SQLiteRepository struct {
	db  *sql.DB
	box *SecretBox
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB, box *SecretBox) *SQLiteRepository {
	return &SQLiteRepository{db: db, box: box}
}

const selectColumns = `
		SELECT id, name, host, port, https_port, username, password_enc,
			prefer_https, auto_connect, status, last_online, created_at, updated_at
		FROM controllers`

// GetByID retrieves a controller by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Controller, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	c, err := r.scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrControllerNotFound
		}
		return nil, fmt.Errorf("querying controller by id: %w", err)
	}
	return c, nil
}

// List retrieves all controllers.
func (r *SQLiteRepository) List(ctx context.Context) ([]Controller, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying controllers: %w", err)
	}
	defer rows.Close()

	var out []Controller
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning controller: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating controllers: %w", err)
	}
	return out, nil
}

// Create inserts a new controller.
func (r *SQLiteRepository) Create(ctx context.Context, c *Controller) error {
	sealed, err := r.box.Seal(c.Password)
	if err != nil {
		return fmt.Errorf("sealing password: %w", err)
	}

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	query := `
		INSERT INTO controllers (
			id, name, host, port, https_port, username, password_enc,
			prefer_https, auto_connect, status, last_online, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		c.ID,
		c.Name,
		c.Host,
		c.Port,
		c.HTTPSPort,
		c.Username,
		sealed,
		boolToInt(c.PreferHTTPS),
		boolToInt(c.AutoConnect),
		string(c.Status),
		nullableTime(c.LastOnline),
		c.CreatedAt.Format(time.RFC3339),
		c.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrControllerExists
		}
		return fmt.Errorf("inserting controller: %w", err)
	}
	return nil
}

// Update modifies an existing controller.
func (r *SQLiteRepository) Update(ctx context.Context, c *Controller) error {
	sealed, err := r.box.Seal(c.Password)
	if err != nil {
		return fmt.Errorf("sealing password: %w", err)
	}
	c.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE controllers SET
			name = ?, host = ?, port = ?, https_port = ?, username = ?,
			password_enc = ?, prefer_https = ?, auto_connect = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		c.Name,
		c.Host,
		c.Port,
		c.HTTPSPort,
		c.Username,
		sealed,
		boolToInt(c.PreferHTTPS),
		boolToInt(c.AutoConnect),
		c.UpdatedAt.Format(time.RFC3339),
		c.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrControllerExists
		}
		return fmt.Errorf("updating controller: %w", err)
	}
	return requireRow(result)
}

// Delete removes a controller by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM controllers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting controller: %w", err)
	}
	return requireRow(result)
}

// UpdateStatus records the latest session state.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status Status, lastOnline *time.Time) error {
	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		UPDATE controllers
		SET status = ?, last_online = COALESCE(?, last_online), updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, string(status), nullableTime(lastOnline), now, id)
	if err != nil {
		return fmt.Errorf("updating controller status: %w", err)
	}
	return requireRow(result)
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) scan(scanner rowScanner) (*Controller, error) {
	var c Controller
	var sealed, status, createdAt, updatedAt string
	var lastOnline sql.NullString
	var preferHTTPS, autoConnect int

	err := scanner.Scan(
		&c.ID,
		&c.Name,
		&c.Host,
		&c.Port,
		&c.HTTPSPort,
		&c.Username,
		&sealed,
		&preferHTTPS,
		&autoConnect,
		&status,
		&lastOnline,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.PreferHTTPS = preferHTTPS != 0
	c.AutoConnect = autoConnect != 0
	c.Status = Status(status)

	if c.Password, err = r.box.Open(sealed); err != nil {
		return nil, fmt.Errorf("controller %s: %w", c.ID, err)
	}
	if lastOnline.Valid {
		if t, err := time.Parse(time.RFC3339, lastOnline.String); err == nil {
			c.LastOnline = &t
		}
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &c, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrControllerNotFound
	}
	return nil
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
