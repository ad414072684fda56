package data

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	ListLimitDefault = 50

	insertDecision = `INSERT INTO decision (id, created_at, result, probability, threshold, features, remote)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	selectDecisions = `SELECT id, created_at, result, probability, threshold, features, remote
		FROM decision
		ORDER BY created_at DESC, id
		LIMIT ?
	`

	deleteDecisions = `DELETE FROM decision`
)

var stateQueries = map[string]string{
	"decisions": "SELECT COUNT(*) FROM decision",
	"rejected":  "SELECT COUNT(*) FROM decision WHERE result = 1",
	"accepted":  "SELECT COUNT(*) FROM decision WHERE result = 0",
}

// Decision is a served prediction.
type Decision struct {
	ID          string    `json:"id" yaml:"id"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	Result      int       `json:"result" yaml:"result"`
	Probability float64   `json:"result_proba" yaml:"result_proba"`
	Threshold   float64   `json:"seuil" yaml:"seuil"`
	Features    int       `json:"features" yaml:"features"`
	Remote      string    `json:"remote,omitempty" yaml:"remote,omitempty"`
}

// SaveDecision records d, assigning an ID and timestamp when empty.
func SaveDecision(db *DB, d *Decision) error {
	if db == nil {
		return ErrDBNotInitialized
	}
	if d == nil {
		return errors.New("decision required")
	}

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	if _, err := db.Exec(db.rebind(insertDecision),
		d.ID, d.CreatedAt.UnixMilli(), d.Result, d.Probability, d.Threshold, d.Features, d.Remote); err != nil {
		return errors.Wrapf(err, "failed to insert decision: %s", d.ID)
	}
	return nil
}

// ListDecisions returns the most recent decisions first.
func ListDecisions(db *DB, limit int) ([]*Decision, error) {
	if db == nil {
		return nil, ErrDBNotInitialized
	}
	if limit <= 0 {
		limit = ListLimitDefault
	}

	rows, err := db.Query(db.rebind(selectDecisions), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query decisions")
	}
	defer rows.Close()

	list := make([]*Decision, 0)
	for rows.Next() {
		d := &Decision{}
		var created int64
		if err := rows.Scan(&d.ID, &created, &d.Result, &d.Probability, &d.Threshold, &d.Features, &d.Remote); err != nil {
			return nil, errors.Wrap(err, "failed to scan decision row")
		}
		d.CreatedAt = time.UnixMilli(created).UTC()
		list = append(list, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate decision rows")
	}
	return list, nil
}

// DeleteDecisions removes every recorded decision and returns how many were removed.
func DeleteDecisions(db *DB) (int64, error) {
	if db == nil {
		return 0, ErrDBNotInitialized
	}
	res, err := db.Exec(deleteDecisions)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete decisions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count deleted decisions")
	}
	return n, nil
}

// GetDataState returns row counts of the journal.
func GetDataState(db *DB) (map[string]int64, error) {
	if db == nil {
		return nil, ErrDBNotInitialized
	}

	state := make(map[string]int64)
	for k, q := range stateQueries {
		var count int64
		if err := db.QueryRow(q).Scan(&count); err != nil {
			return nil, errors.Wrapf(err, "error getting %s count", k)
		}
		state[k] = count
	}
	return state, nil
}
