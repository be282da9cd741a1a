package warehouse

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/alkfred/alkfred/internal/db"
)

// BuildEntry represents a row in civic.build_log.
type BuildEntry struct {
	ID          int64          `json:"id"`
	Stage       string         `json:"stage"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	RowsWritten int64          `json:"rows_written"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// BuildResult holds the outcome of a build stage, passed to Complete().
type BuildResult struct {
	RowsWritten int64          `json:"rows_written"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// BuildLog provides read/write access to the civic.build_log table.
type BuildLog struct {
	pool db.Pool
}

// NewBuildLog creates a new BuildLog backed by the given connection pool.
func NewBuildLog(pool db.Pool) *BuildLog {
	return &BuildLog{pool: pool}
}

// LastSuccess returns the started_at time of the most recent successful run
// of a stage. Returns nil if the stage has never completed.
func (b *BuildLog) LastSuccess(ctx context.Context, stage string) (*time.Time, error) {
	var t time.Time
	err := b.pool.QueryRow(ctx,
		`SELECT started_at FROM civic.build_log
		 WHERE stage = $1 AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		stage,
	).Scan(&t)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "buildlog: last success for %s", stage)
	}
	return &t, nil
}

// Start records the beginning of a build stage and returns its ID.
func (b *BuildLog) Start(ctx context.Context, stage string) (int64, error) {
	var id int64
	err := b.pool.QueryRow(ctx,
		`INSERT INTO civic.build_log (stage, status, started_at)
		 VALUES ($1, 'running', now()) RETURNING id`,
		stage,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "buildlog: start stage %s", stage)
	}
	return id, nil
}

// Complete marks a build stage as successfully completed.
func (b *BuildLog) Complete(ctx context.Context, runID int64, result *BuildResult) error {
	var metaJSON []byte
	if result != nil && result.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(result.Metadata)
		if err != nil {
			return eris.Wrap(err, "buildlog: marshal metadata")
		}
	}

	rowsWritten := int64(0)
	if result != nil {
		rowsWritten = result.RowsWritten
	}

	_, err := b.pool.Exec(ctx,
		`UPDATE civic.build_log
		 SET status = 'complete', completed_at = now(), rows_written = $1, metadata = $2
		 WHERE id = $3`,
		rowsWritten, metaJSON, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "buildlog: complete run %d", runID)
	}
	return nil
}

// Fail marks a build stage as failed with an error message.
func (b *BuildLog) Fail(ctx context.Context, runID int64, errMsg string) error {
	_, err := b.pool.Exec(ctx,
		`UPDATE civic.build_log
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "buildlog: fail run %d", runID)
	}
	return nil
}

// ListAll returns all build log entries ordered by most recent first.
func (b *BuildLog) ListAll(ctx context.Context) ([]BuildEntry, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT id, stage, status, started_at, completed_at, rows_written, error, metadata
		 FROM civic.build_log ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "buildlog: list all")
	}
	defer rows.Close()

	var entries []BuildEntry
	for rows.Next() {
		var e BuildEntry
		var completedAt *time.Time
		var errStr *string
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.Stage, &e.Status, &e.StartedAt, &completedAt, &e.RowsWritten, &errStr, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "buildlog: scan entry")
		}
		e.CompletedAt = completedAt
		if errStr != nil {
			e.Error = *errStr
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
