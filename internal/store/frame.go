package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayusman/posewrap/internal/keypoint"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Frame is the metadata of one recorded detection snapshot.
type Frame struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Model        string    `json:"model"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	OutputWidth  int       `json:"output_width"`
	OutputHeight int       `json:"output_height"`
	Stages       []string  `json:"stages"`
	People       int       `json:"people"`
	CreatedAt    time.Time `json:"created_at"`
}

// Snapshot is a frame with the keypoint group sets that were recorded for
// it, keyed by type.
type Snapshot struct {
	Frame     Frame                               `json:"frame"`
	Keypoints map[keypoint.Type]keypoint.GroupSet `json:"-"`
}

// FrameRepository provides CRUD operations for recorded frames.
type FrameRepository struct {
	db *sql.DB
}

// Frames returns the frame repository for this store.
func (s *Store) Frames() *FrameRepository {
	return &FrameRepository{db: s.db}
}

func typeColumn(t keypoint.Type) string {
	return strings.ToLower(t.String())
}

// Create inserts the frame and all of its keypoints in a single transaction.
func (r *FrameRepository) Create(snap *Snapshot) error {
	f := &snap.Frame
	if f.ID == "" {
		return errors.New("frame id is required")
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO frames (id, source, model, width, height, output_width, output_height, stages, people, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Source, f.Model, f.Width, f.Height, f.OutputWidth, f.OutputHeight,
		strings.Join(f.Stages, ","), f.People, f.CreatedAt,
	)
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO keypoints (frame_id, type, grp, instance, part, x, y, score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range []keypoint.Type{keypoint.Pose, keypoint.Face, keypoint.Hand} {
		set, ok := snap.Keypoints[t]
		if !ok {
			continue
		}
		for g, tensor := range set {
			for i, inst := range tensor.Instances {
				for p, kp := range inst {
					if _, err := stmt.Exec(f.ID, typeColumn(t), g, i, p, kp.X, kp.Y, kp.Score); err != nil {
						return fmt.Errorf("insert keypoint: %w", err)
					}
				}
			}
		}
	}

	return tx.Commit()
}

const frameColumns = `id, source, model, width, height, output_width, output_height, stages, people, created_at`

func scanFrame(scan func(dest ...any) error) (*Frame, error) {
	f := &Frame{}
	var stages string
	err := scan(&f.ID, &f.Source, &f.Model, &f.Width, &f.Height, &f.OutputWidth, &f.OutputHeight,
		&stages, &f.People, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	if stages != "" {
		f.Stages = strings.Split(stages, ",")
	}
	return f, nil
}

// GetByID retrieves a frame's metadata by its ID.
func (r *FrameRepository) GetByID(id string) (*Frame, error) {
	f, err := scanFrame(r.db.QueryRow(`SELECT `+frameColumns+` FROM frames WHERE id = ?`, id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// List retrieves the most recent frames, newest first. A non-positive
// limit returns all frames.
func (r *FrameRepository) List(limit int) ([]*Frame, error) {
	query := `SELECT ` + frameColumns + ` FROM frames ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []*Frame
	for rows.Next() {
		f, err := scanFrame(rows.Scan)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return frames, nil
}

// Get retrieves a frame together with its keypoint group sets. Tensors have
// one instance per recorded person, and hand sets always hold two tensors.
func (r *FrameRepository) Get(id string) (*Snapshot, error) {
	f, err := r.GetByID(id)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Frame: *f, Keypoints: make(map[keypoint.Type]keypoint.GroupSet)}
	parts := map[keypoint.Type]int{
		keypoint.Face: keypoint.FaceParts,
		keypoint.Hand: keypoint.HandParts,
	}
	if model, err := keypoint.LookupModel(f.Model); err == nil {
		parts[keypoint.Pose] = model.NumParts()
	}

	for _, stage := range f.Stages {
		t, err := keypoint.ParseType(stage)
		if err != nil {
			continue
		}
		groups := 1
		if t == keypoint.Hand {
			groups = 2
		}
		set := make(keypoint.GroupSet, groups)
		for g := range set {
			set[g] = keypoint.NewTensor(f.People, parts[t])
		}
		snap.Keypoints[t] = set
	}

	rows, err := r.db.Query(
		`SELECT type, grp, instance, part, x, y, score
		 FROM keypoints WHERE frame_id = ?
		 ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var typ string
		var g, inst, part int
		var kp keypoint.Keypoint
		if err := rows.Scan(&typ, &g, &inst, &part, &kp.X, &kp.Y, &kp.Score); err != nil {
			return nil, err
		}
		t, err := keypoint.ParseType(typ)
		if err != nil {
			return nil, err
		}
		set, ok := snap.Keypoints[t]
		if !ok || g >= len(set) || inst >= len(set[g].Instances) || part >= set[g].Parts {
			return nil, fmt.Errorf("frame %s: keypoint %s/%d/%d/%d outside recorded shape", id, typ, g, inst, part)
		}
		set[g].Instances[inst][part] = kp
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return snap, nil
}

// Delete removes a frame and its keypoints by ID.
func (r *FrameRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM frames WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Count returns the number of recorded frames.
func (r *FrameRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM frames`).Scan(&n)
	return n, err
}
