package store

// Link session transitions.
const (
	LinkConnected    = "connected"
	LinkDisconnected = "disconnected"
)

// LinkEvent records a printer link transition.
type LinkEvent struct {
	ID        int64  `json:"id"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"created_at"`
}

func (db *DB) RecordLinkEvent(kind, detail string) error {
	_, err := db.Exec(`INSERT INTO link_events (kind, detail) VALUES (?, ?)`, kind, detail)
	return err
}

func (db *DB) ListLinkEvents(limit int) ([]LinkEvent, error) {
	rows, err := db.Query(`SELECT id, kind, detail, created_at FROM link_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LinkEvent
	for rows.Next() {
		var e LinkEvent
		if err := rows.Scan(&e.ID, &e.Kind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
