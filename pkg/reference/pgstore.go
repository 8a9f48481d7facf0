package reference

import (
	"database/sql"
	"fmt"
)

// PGMetadata is the production Metadata backend, sharing the Navigation
// Graph Store's connection pool rather than opening a second one.
type PGMetadata struct {
	db *sql.DB
}

// NewPGMetadata wraps an already-opened *sql.DB and ensures the
// reference_rows table exists.
func NewPGMetadata(db *sql.DB) (*PGMetadata, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS reference_rows (
		team TEXT NOT NULL,
		interface_name TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		area_x DOUBLE PRECISION NOT NULL,
		area_y DOUBLE PRECISION NOT NULL,
		area_width DOUBLE PRECISION NOT NULL,
		area_height DOUBLE PRECISION NOT NULL,
		image_url TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		modified BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (team, interface_name, name)
	)`)
	if err != nil {
		return nil, fmt.Errorf("reference: migrate reference_rows table: %w", err)
	}
	return &PGMetadata{db: db}, nil
}

func (s *PGMetadata) Get(team, interfaceName, name string) (*Reference, error) {
	ref := Reference{Team: team, InterfaceName: interfaceName, Name: name}
	var kind string
	row := s.db.QueryRow(`
		SELECT kind, area_x, area_y, area_width, area_height, image_url, text, language, modified, updated_at
		FROM reference_rows WHERE team = $1 AND interface_name = $2 AND name = $3
	`, team, interfaceName, name)
	if err := row.Scan(&kind, &ref.Area.X, &ref.Area.Y, &ref.Area.Width, &ref.Area.Height,
		&ref.ImageURL, &ref.Text, &ref.Language, &ref.Modified, &ref.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("reference: get %s/%s/%s: %w", team, interfaceName, name, err)
	}
	ref.Type = Type(kind)
	return &ref, nil
}

func (s *PGMetadata) List(team, interfaceName string) ([]Reference, error) {
	rows, err := s.db.Query(`
		SELECT name, kind, area_x, area_y, area_width, area_height, image_url, text, language, modified, updated_at
		FROM reference_rows WHERE team = $1 AND interface_name = $2
	`, team, interfaceName)
	if err != nil {
		return nil, fmt.Errorf("reference: list %s/%s: %w", team, interfaceName, err)
	}
	defer rows.Close()
	var out []Reference
	for rows.Next() {
		ref := Reference{Team: team, InterfaceName: interfaceName}
		var kind string
		if err := rows.Scan(&ref.Name, &kind, &ref.Area.X, &ref.Area.Y, &ref.Area.Width, &ref.Area.Height,
			&ref.ImageURL, &ref.Text, &ref.Language, &ref.Modified, &ref.UpdatedAt); err != nil {
			return nil, err
		}
		ref.Type = Type(kind)
		out = append(out, ref)
	}
	return out, nil
}

func (s *PGMetadata) Save(ref Reference) error {
	_, err := s.db.Exec(`
		INSERT INTO reference_rows (team, interface_name, name, kind, area_x, area_y, area_width, area_height,
			image_url, text, language, modified, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (team, interface_name, name) DO UPDATE SET
			kind=$4, area_x=$5, area_y=$6, area_width=$7, area_height=$8,
			image_url=$9, text=$10, language=$11, modified=$12, updated_at=$13
	`, ref.Team, ref.InterfaceName, ref.Name, string(ref.Type), ref.Area.X, ref.Area.Y, ref.Area.Width, ref.Area.Height,
		ref.ImageURL, ref.Text, ref.Language, ref.Modified, ref.UpdatedAt)
	if err != nil {
		return fmt.Errorf("reference: save %s/%s/%s: %w", ref.Team, ref.InterfaceName, ref.Name, err)
	}
	return nil
}

func (s *PGMetadata) Delete(team, interfaceName, name string) error {
	_, err := s.db.Exec(`DELETE FROM reference_rows WHERE team = $1 AND interface_name = $2 AND name = $3`, team, interfaceName, name)
	return err
}
