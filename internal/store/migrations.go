package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Frames table - one row per recorded detection snapshot
		`CREATE TABLE IF NOT EXISTS frames (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			output_width INTEGER NOT NULL,
			output_height INTEGER NOT NULL,
			stages TEXT NOT NULL,
			people INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Keypoints table - every keypoint of every recorded tensor
		`CREATE TABLE IF NOT EXISTS keypoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			frame_id TEXT NOT NULL REFERENCES frames(id) ON DELETE CASCADE,
			type TEXT NOT NULL CHECK(type IN ('pose', 'face', 'hand')),
			grp INTEGER NOT NULL DEFAULT 0,
			instance INTEGER NOT NULL,
			part INTEGER NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			score REAL NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_keypoints_frame_id ON keypoints(frame_id)`,
		`CREATE INDEX IF NOT EXISTS idx_frames_created_at ON frames(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
