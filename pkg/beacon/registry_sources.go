package beacon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/rootCircle/Beaconify/pkg/file"
	http_utils "github.com/rootCircle/Beaconify/pkg/httpUtils"

	_ "modernc.org/sqlite"
)

// ErrRegistryFetch is returned when a registry source reports an unsuccessful fetch.
var ErrRegistryFetch = errors.New("registry fetch failed")

// record is the wire shape of a registered beacon. A missing isActive flag
// means the beacon is active.
type record struct {
	UUID      string  `json:"uuid" yaml:"uuid"`
	Major     string  `json:"major" yaml:"major"`
	Minor     string  `json:"minor" yaml:"minor"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	IsActive  *bool   `json:"isActive,omitempty" yaml:"isActive,omitempty"`
}

func (r record) entry() Entry {
	return Entry{
		Identity:  Identity{UUID: r.UUID, Major: r.Major, Minor: r.Minor},
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Active:    r.IsActive == nil || *r.IsActive,
	}
}

func toEntries(records []record) []Entry {
	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		entries = append(entries, r.entry())
	}
	return entries
}

// envelope is the response body of the beacon registry API.
type envelope struct {
	Success bool     `json:"success" yaml:"success"`
	Message string   `json:"message,omitempty" yaml:"message,omitempty"`
	Data    []record `json:"data" yaml:"data"`
}

// FileSource reads a registry snapshot from a YAML or JSON file holding the
// same envelope the registry API returns.
type FileSource struct {
	path       string
	fileClient file.FileOperations
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string, fileClient file.FileOperations) *FileSource {
	return &FileSource{path: path, fileClient: fileClient}
}

// Fetch implements Source.
func (f *FileSource) Fetch(_ context.Context) ([]Entry, error) {
	var body envelope
	if err := f.fileClient.ReadStructuredFile(f.path, &body); err != nil {
		return nil, fmt.Errorf("reading registry file %s: %w", f.path, err)
	}
	return toEntries(body.Data), nil
}

// HTTPSource fetches the registry snapshot from the beacon registry API.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource creates an HTTPSource for url. A nil client uses http.DefaultClient.
func NewHTTPSource(url string, client *http.Client) *HTTPSource {
	return &HTTPSource{url: url, client: client}
}

// Fetch implements Source.
func (h *HTTPSource) Fetch(ctx context.Context) ([]Entry, error) {
	var body envelope
	if err := http_utils.GetJSON(ctx, h.client, h.url, &body); err != nil {
		return nil, err
	}
	if !body.Success {
		msg := body.Message
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("%w: %s", ErrRegistryFetch, msg)
	}
	return toEntries(body.Data), nil
}

// SQLiteSource reads the registry snapshot from a "beacons" table.
type SQLiteSource struct {
	dsn string
}

// NewSQLiteSource creates a SQLiteSource for the given database path or DSN.
func NewSQLiteSource(dsn string) *SQLiteSource {
	return &SQLiteSource{dsn: dsn}
}

const selectBeacons = `SELECT uuid, major, minor, latitude, longitude, is_active FROM beacons`

// Fetch implements Source.
func (s *SQLiteSource) Fetch(ctx context.Context) ([]Entry, error) {
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return nil, fmt.Errorf("opening registry database: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, selectBeacons)
	if err != nil {
		return nil, fmt.Errorf("querying beacons: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Identity.UUID, &e.Identity.Major, &e.Identity.Minor,
			&e.Latitude, &e.Longitude, &e.Active); err != nil {
			return nil, fmt.Errorf("scanning beacon row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating beacon rows: %w", err)
	}
	return entries, nil
}
