package navtree

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fleetlab/fleetlab/pkg/cmdregistry"
)

// MemCommandStore is an in-memory cmdregistry.Store, used by tests and as a
// fallback when no Postgres DSN is configured.
type MemCommandStore struct {
	mu    sync.RWMutex
	specs map[string]cmdregistry.CommandSpec // deviceModel/commandName -> spec
}

// NewMemCommandStore creates an empty in-memory command catalog.
func NewMemCommandStore() *MemCommandStore {
	return &MemCommandStore{specs: make(map[string]cmdregistry.CommandSpec)}
}

func commandKey(deviceModel, commandName string) string {
	return deviceModel + "\x00" + commandName
}

func (m *MemCommandStore) List(deviceModel string) ([]cmdregistry.CommandSpec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []cmdregistry.CommandSpec
	for _, s := range m.specs {
		if s.DeviceModel == deviceModel {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemCommandStore) Get(deviceModel, commandName string) (*cmdregistry.CommandSpec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.specs[commandKey(deviceModel, commandName)]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemCommandStore) Save(spec cmdregistry.CommandSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs[commandKey(spec.DeviceModel, spec.CommandName)] = spec
	return nil
}

// PGCommandStore is the Postgres-backed cmdregistry.Store, sharing a
// PGStore's connection pool.
type PGCommandStore struct {
	db *sql.DB
}

// NewPGCommandStore wraps an already-opened *sql.DB and ensures the
// command_specs table exists.
func NewPGCommandStore(db *sql.DB) (*PGCommandStore, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS command_specs (
		device_model TEXT NOT NULL,
		command_name TEXT NOT NULL,
		kind TEXT NOT NULL,
		category TEXT NOT NULL,
		description TEXT NOT NULL,
		params_schema JSONB NOT NULL,
		PRIMARY KEY (device_model, command_name)
	)`)
	if err != nil {
		return nil, fmt.Errorf("navtree: migrate command_specs: %w", err)
	}
	return &PGCommandStore{db: db}, nil
}

func (s *PGCommandStore) List(deviceModel string) ([]cmdregistry.CommandSpec, error) {
	rows, err := s.db.Query(`
		SELECT command_name, kind, category, description, params_schema
		FROM command_specs WHERE device_model = $1
	`, deviceModel)
	if err != nil {
		return nil, fmt.Errorf("navtree: list command specs for %q: %w", deviceModel, err)
	}
	defer rows.Close()
	var out []cmdregistry.CommandSpec
	for rows.Next() {
		spec := cmdregistry.CommandSpec{DeviceModel: deviceModel}
		var payload []byte
		if err := rows.Scan(&spec.CommandName, &spec.Kind, &spec.Category, &spec.Description, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &spec.Schema); err != nil {
			return nil, fmt.Errorf("navtree: decode schema for %q/%q: %w", deviceModel, spec.CommandName, err)
		}
		out = append(out, spec)
	}
	return out, nil
}

func (s *PGCommandStore) Get(deviceModel, commandName string) (*cmdregistry.CommandSpec, error) {
	spec := cmdregistry.CommandSpec{DeviceModel: deviceModel, CommandName: commandName}
	var payload []byte
	row := s.db.QueryRow(`
		SELECT kind, category, description, params_schema
		FROM command_specs WHERE device_model = $1 AND command_name = $2
	`, deviceModel, commandName)
	if err := row.Scan(&spec.Kind, &spec.Category, &spec.Description, &payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("navtree: get command spec %q/%q: %w", deviceModel, commandName, err)
	}
	if err := json.Unmarshal(payload, &spec.Schema); err != nil {
		return nil, fmt.Errorf("navtree: decode schema for %q/%q: %w", deviceModel, commandName, err)
	}
	return &spec, nil
}

func (s *PGCommandStore) Save(spec cmdregistry.CommandSpec) error {
	payload, err := json.Marshal(spec.Schema)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO command_specs (device_model, command_name, kind, category, description, params_schema)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (device_model, command_name) DO UPDATE SET
			kind=$3, category=$4, description=$5, params_schema=$6
	`, spec.DeviceModel, spec.CommandName, spec.Kind, spec.Category, spec.Description, payload)
	if err != nil {
		return fmt.Errorf("navtree: save command spec %q/%q: %w", spec.DeviceModel, spec.CommandName, err)
	}
	return nil
}
