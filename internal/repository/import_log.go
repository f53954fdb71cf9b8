package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/weldingest/constants"
	"github.com/joseph-ayodele/weldingest/internal/entity"
)

type ImportLogRepository interface {
	// Log appends one audit row and returns its id.
	Log(ctx context.Context, entry entity.ImportLogEntry) (int64, error)
	// List returns the newest rows first.
	List(ctx context.Context, limit int) ([]entity.ImportLogEntry, error)
}

type importLogRepo struct {
	store  *Store
	logger *slog.Logger
}

func NewImportLogRepository(store *Store, logger *slog.Logger) ImportLogRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &importLogRepo{store: store, logger: logger}
}

func (r *importLogRepo) Log(ctx context.Context, entry entity.ImportLogEntry) (int64, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	var runID any
	if entry.RunID != "" {
		runID = entry.RunID
	}
	message := Truncate(entry.Message, r.store.cfg.MessageLimit)
	d := r.store.dialect

	var id int64
	err := r.store.withWriteTx(ctx, func(tx dialect.Tx) error {
		ins := entsql.Dialect(d).
			Insert("import_log").
			Columns("run_id", "file_path", "status", "message", "created_at").
			Values(runID, entry.FilePath, string(entry.Status), message,
				entry.CreatedAt.UTC().Format(time.RFC3339Nano))
		var err error
		id, err = insertID(ctx, tx, d, ins)
		return err
	})
	if err != nil {
		r.logger.Error("failed to write import log", "path", entry.FilePath, "status", entry.Status, "error", err)
		return 0, fmt.Errorf("write import log: %w", err)
	}
	return id, nil
}

func (r *importLogRepo) List(ctx context.Context, limit int) ([]entity.ImportLogEntry, error) {
	sel := entsql.Dialect(r.store.dialect).
		Select("id", "run_id", "file_path", "status", "message", "created_at").
		From(entsql.Table("import_log")).
		OrderBy(entsql.Desc("id"))
	if limit > 0 {
		sel.Limit(limit)
	}
	q, args := sel.Query()

	var rows entsql.Rows
	if err := r.store.drv.Query(ctx, q, args, &rows); err != nil {
		r.logger.Error("failed to list import log", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := []entity.ImportLogEntry{}
	for rows.Next() {
		var (
			e         entity.ImportLogEntry
			runID     sql.NullString
			status    string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &runID, &e.FilePath, &status, &e.Message, &createdAt); err != nil {
			return nil, err
		}
		e.RunID = runID.String
		e.Status = constants.ImportStatus(status)
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("decode created_at of import log %d: %w", e.ID, err)
		}
		e.CreatedAt = t
		out = append(out, e)
	}
	return out, rows.Err()
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
