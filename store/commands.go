package store

// Command outcomes recorded in the journal.
const (
	OutcomeSent    = "sent"
	OutcomeDropped = "dropped"
	OutcomeFailed  = "failed"
)

// CommandRecord is one relayed (or refused) command.
type CommandRecord struct {
	ID        int64  `json:"id"`
	Source    string `json:"source"`
	Command   string `json:"command"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
}

func (db *DB) RecordCommand(source, command, outcome, errMsg string) (int64, error) {
	res, err := db.Exec(`INSERT INTO commands (source, command, outcome, error) VALUES (?, ?, ?, ?)`,
		source, command, outcome, errMsg)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListCommands returns the most recent commands, newest first.
func (db *DB) ListCommands(limit int) ([]CommandRecord, error) {
	rows, err := db.Query(`SELECT id, source, command, outcome, error, created_at FROM commands ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CommandRecord
	for rows.Next() {
		var c CommandRecord
		if err := rows.Scan(&c.ID, &c.Source, &c.Command, &c.Outcome, &c.Error, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (db *DB) CountCommands(outcome string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM commands WHERE outcome = ?`, outcome).Scan(&n)
	return n, err
}
