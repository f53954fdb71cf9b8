package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/weldingest/constants"
	"github.com/joseph-ayodele/weldingest/internal/common"
	"github.com/joseph-ayodele/weldingest/internal/entity"
)

const (
	DefaultSearchLimit = 20
	ExcerptRunes       = 200

	SearchModeFullText  = "fulltext"
	SearchModeSubstring = "substring"
)

var documentColumns = []string{
	"id", "file_path", "doc_type", "doc_number", "process", "material",
	"thickness_mm", "filler", "shielding_gas", "position", "company", "date",
	"avg_conf", "classification_confidence", "fields_json", "raw_text", "imported_at",
}

// indexedColumns are the normalized fields copied into the search index.
var indexedColumns = []string{
	"doc_type", "doc_number", "process", "material", "filler",
	"shielding_gas", "position", "company", "date", "raw_text",
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	DocType constants.DocType
	Limit   int
}

// SearchObserver is told which path served each search and how long it took.
type SearchObserver func(mode string, took time.Duration)

type DocumentRepository interface {
	Insert(ctx context.Context, path string, doc *entity.Document, rawText string, issues []entity.ValidationIssue) (int64, error)
	Get(ctx context.Context, id int64) (*entity.StoredDocument, error)
	List(ctx context.Context, filter ListFilter) ([]*entity.StoredDocument, error)
	Delete(ctx context.Context, id int64) error
	ExistsByPath(ctx context.Context, path string) (bool, error)
	Search(ctx context.Context, query string, limit int) ([]entity.SearchHit, error)
}

type documentRepo struct {
	store    *Store
	observer SearchObserver
	logger   *slog.Logger
}

// DocumentOption configures a DocumentRepository.
type DocumentOption func(*documentRepo)

// WithSearchObserver reports the search path taken by every Search call.
func WithSearchObserver(o SearchObserver) DocumentOption {
	return func(r *documentRepo) { r.observer = o }
}

func NewDocumentRepository(store *Store, logger *slog.Logger, opts ...DocumentOption) DocumentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	r := &documentRepo{store: store, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// indexRow holds the column values shared by documents and the search index.
type indexRow struct {
	docType, docNumber, process, material, filler, gas, position, company, date, thickness any
}

func newIndexRow(doc *entity.Document) indexRow {
	val := func(name entity.FieldName) any {
		if v, ok := doc.Value(name); ok {
			return v
		}
		return nil
	}
	row := indexRow{
		docType:   string(doc.DocType),
		docNumber: val(entity.FieldDocNumber),
		process:   val(entity.FieldProcess),
		material:  val(entity.FieldMaterial),
		filler:    val(entity.FieldFiller),
		gas:       val(entity.FieldShieldingGas),
		position:  val(entity.FieldPosition),
		company:   val(entity.FieldCompany),
	}
	// only a canonical date reaches the date column; the raw value stays in fields_json
	if _, ok := doc.DateISO(); ok {
		row.date = doc.Date.Value
	}
	if v, ok := doc.ThicknessValue(); ok {
		row.thickness = v
	}
	return row
}

func (ir indexRow) values(rawText string) []any {
	return []any{ir.docType, ir.docNumber, ir.process, ir.material, ir.filler, ir.gas, ir.position, ir.company, ir.date, rawText}
}

// body flattens the indexed values into one searchable text.
func (ir indexRow) body(rawText string) string {
	var parts []string
	for _, v := range ir.values(rawText) {
		if s, ok := v.(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

func (r *documentRepo) Insert(ctx context.Context, path string, doc *entity.Document, rawText string, issues []entity.ValidationIssue) (int64, error) {
	if doc == nil {
		return 0, common.NewAppError("INVALID_INPUT", "nil document", common.ErrInvalidInput)
	}
	fieldsJSON, err := json.Marshal(doc.Present())
	if err != nil {
		return 0, fmt.Errorf("encode fields: %w", err)
	}
	row := newIndexRow(doc)
	d := r.store.dialect

	var id int64
	err = r.store.withWriteTx(ctx, func(tx dialect.Tx) error {
		ins := entsql.Dialect(d).
			Insert("documents").
			Columns(documentColumns[1:]...).
			Values(path, row.docType, row.docNumber, row.process, row.material,
				row.thickness, row.filler, row.gas, row.position, row.company, row.date,
				doc.AvgConfidence(), doc.ClassificationConfidence, string(fieldsJSON), rawText,
				time.Now().UTC().Format(time.RFC3339Nano))

		var err error
		if id, err = insertID(ctx, tx, d, ins); err != nil {
			return fmt.Errorf("insert document: %w", err)
		}

		var q string
		var args []any
		if d == dialect.Postgres {
			q, args = entsql.Dialect(d).
				Insert("search_index").
				Columns("document_id", "body").
				Values(id, row.body(rawText)).
				Query()
		} else {
			q, args = entsql.Dialect(d).
				Insert("documents_fts").
				Columns(append([]string{"rowid"}, indexedColumns...)...).
				Values(append([]any{id}, row.values(rawText)...)...).
				Query()
		}
		if err := tx.Exec(ctx, q, args, nil); err != nil {
			return fmt.Errorf("insert search index: %w", err)
		}

		if len(issues) == 0 {
			return nil
		}
		ib := entsql.Dialect(d).
			Insert("validation_issues").
			Columns("document_id", "field", "severity", "message")
		for _, is := range issues {
			ib.Values(id, string(is.Field), string(is.Severity), is.Message)
		}
		q, args = ib.Query()
		if err := tx.Exec(ctx, q, args, nil); err != nil {
			return fmt.Errorf("insert issues: %w", err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to insert document", "path", path, "error", err)
		return 0, common.WrapError(err, "insert document")
	}

	r.logger.Debug("document inserted", "id", id, "path", path, "doc_type", doc.DocType, "issues", len(issues))
	return id, nil
}

// insertID runs ins and returns the new row id.
func insertID(ctx context.Context, tx dialect.Tx, d string, ins *entsql.InsertBuilder) (int64, error) {
	if d == dialect.Postgres {
		q, args := ins.Returning("id").Query()
		var rows entsql.Rows
		if err := tx.Query(ctx, q, args, &rows); err != nil {
			return 0, err
		}
		defer rows.Close()
		var id int64
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return 0, err
			}
			return 0, fmt.Errorf("insert returned no id")
		}
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		return id, rows.Err()
	}

	q, args := ins.Query()
	var res sql.Result
	if err := tx.Exec(ctx, q, args, &res); err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *documentRepo) Get(ctx context.Context, id int64) (*entity.StoredDocument, error) {
	q, args := entsql.Dialect(r.store.dialect).
		Select(documentColumns...).
		From(entsql.Table("documents")).
		Where(entsql.EQ("id", id)).
		Query()
	docs, err := r.queryDocuments(ctx, q, args)
	if err != nil {
		r.logger.Error("failed to get document", "id", id, "error", err)
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("document %d: %w", id, common.ErrNotFound)
	}

	doc := docs[0]
	if doc.Issues, err = r.issues(ctx, id); err != nil {
		r.logger.Error("failed to load issues", "id", id, "error", err)
		return nil, err
	}
	return doc, nil
}

func (r *documentRepo) List(ctx context.Context, filter ListFilter) ([]*entity.StoredDocument, error) {
	sel := entsql.Dialect(r.store.dialect).
		Select(documentColumns...).
		From(entsql.Table("documents")).
		OrderBy(entsql.Desc("id"))
	if filter.DocType != "" {
		sel.Where(entsql.EQ("doc_type", string(filter.DocType)))
	}
	if filter.Limit > 0 {
		sel.Limit(filter.Limit)
	}
	q, args := sel.Query()
	docs, err := r.queryDocuments(ctx, q, args)
	if err != nil {
		r.logger.Error("failed to list documents", "doc_type", filter.DocType, "error", err)
		return nil, err
	}
	return docs, nil
}

// Delete removes the document with its index row and issues.
func (r *documentRepo) Delete(ctx context.Context, id int64) error {
	d := r.store.dialect
	err := r.store.withWriteTx(ctx, func(tx dialect.Tx) error {
		q, args := entsql.Dialect(d).Delete("validation_issues").Where(entsql.EQ("document_id", id)).Query()
		if err := tx.Exec(ctx, q, args, nil); err != nil {
			return fmt.Errorf("delete issues: %w", err)
		}

		if d == dialect.Postgres {
			q, args = entsql.Dialect(d).Delete("search_index").Where(entsql.EQ("document_id", id)).Query()
		} else {
			q, args = entsql.Dialect(d).Delete("documents_fts").Where(entsql.EQ("rowid", id)).Query()
		}
		if err := tx.Exec(ctx, q, args, nil); err != nil {
			return fmt.Errorf("delete search index: %w", err)
		}

		q, args = entsql.Dialect(d).Delete("documents").Where(entsql.EQ("id", id)).Query()
		var res sql.Result
		if err := tx.Exec(ctx, q, args, &res); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("document %d: %w", id, common.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("failed to delete document", "id", id, "error", err)
		return err
	}
	r.logger.Info("document deleted", "id", id)
	return nil
}

func (r *documentRepo) ExistsByPath(ctx context.Context, path string) (bool, error) {
	q, args := entsql.Dialect(r.store.dialect).
		Select(entsql.Count("*")).
		From(entsql.Table("documents")).
		Where(entsql.EQ("file_path", path)).
		Query()

	var rows entsql.Rows
	if err := r.store.drv.Query(ctx, q, args, &rows); err != nil {
		r.logger.Error("failed to check document path", "path", path, "error", err)
		return false, err
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return false, err
		}
	}
	return n > 0, rows.Err()
}

// Search ranks by the full-text index and falls back to a substring scan
// over raw_text when the index is disabled or rejects the query.
func (r *documentRepo) Search(ctx context.Context, query string, limit int) ([]entity.SearchHit, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	start := time.Now()
	query = strings.TrimSpace(query)

	if query != "" && r.store.FullTextEnabled() {
		hits, err := r.searchFullText(ctx, query, limit)
		if err == nil {
			r.observe(SearchModeFullText, start)
			return hits, nil
		}
		r.logger.Warn("full-text search failed, using substring scan", "query", query, "error", err)
	}

	hits, err := r.searchSubstring(ctx, query, limit)
	if err != nil {
		r.logger.Error("substring search failed", "query", query, "error", err)
		return nil, err
	}
	r.observe(SearchModeSubstring, start)
	return hits, nil
}

func (r *documentRepo) observe(mode string, start time.Time) {
	if r.observer != nil {
		r.observer(mode, time.Since(start))
	}
}

const sqliteSearchQuery = `SELECT d.id, d.doc_type, d.doc_number, d.process, d.material, d.thickness_mm,
       d.company, d.date, d.avg_conf,
       snippet(documents_fts, -1, '[', ']', '...', 12)
FROM documents_fts
JOIN documents d ON d.id = documents_fts.rowid
WHERE documents_fts MATCH ?
ORDER BY bm25(documents_fts), d.id DESC
LIMIT ?`

const postgresSearchQuery = `SELECT d.id, d.doc_type, d.doc_number, d.process, d.material, d.thickness_mm,
       d.company, d.date, d.avg_conf,
       ts_headline('simple', s.body, q, 'StartSel=[, StopSel=], MaxWords=24, MinWords=8')
FROM search_index s
JOIN documents d ON d.id = s.document_id,
     websearch_to_tsquery('simple', $1) q
WHERE s.tsv @@ q
ORDER BY ts_rank(s.tsv, q) DESC, d.id DESC
LIMIT $2`

func (r *documentRepo) searchFullText(ctx context.Context, query string, limit int) ([]entity.SearchHit, error) {
	q := sqliteSearchQuery
	if r.store.dialect == dialect.Postgres {
		q = postgresSearchQuery
	}
	var rows entsql.Rows
	if err := r.store.drv.Query(ctx, q, []any{query, limit}, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := []entity.SearchHit{}
	for rows.Next() {
		var h hitRow
		var snippet sql.NullString
		if err := rows.Scan(h.dest(&snippet)...); err != nil {
			return nil, err
		}
		hits = append(hits, h.hit(snippet.String))
	}
	return hits, rows.Err()
}

func (r *documentRepo) searchSubstring(ctx context.Context, query string, limit int) ([]entity.SearchHit, error) {
	sel := entsql.Dialect(r.store.dialect).
		Select("id", "doc_type", "doc_number", "process", "material", "thickness_mm",
			"company", "date", "avg_conf", "raw_text").
		From(entsql.Table("documents")).
		OrderBy(entsql.Desc("id")).
		Limit(limit)
	if query != "" {
		sel.Where(entsql.ContainsFold("raw_text", query))
	}
	q, args := sel.Query()

	var rows entsql.Rows
	if err := r.store.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := []entity.SearchHit{}
	for rows.Next() {
		var h hitRow
		var raw sql.NullString
		if err := rows.Scan(h.dest(&raw)...); err != nil {
			return nil, err
		}
		hits = append(hits, h.hit(Excerpt(raw.String, ExcerptRunes)))
	}
	return hits, rows.Err()
}

// Excerpt returns the first n runes of text on one line.
func Excerpt(text string, n int) string {
	runes := []rune(text)
	if len(runes) > n {
		runes = runes[:n]
	}
	return strings.Join(strings.Fields(string(runes)), " ")
}

type hitRow struct {
	id                 int64
	docType            string
	docNumber, process sql.NullString
	material, company  sql.NullString
	date               sql.NullString
	thickness, avgConf sql.NullFloat64
}

func (h *hitRow) dest(last any) []any {
	return []any{&h.id, &h.docType, &h.docNumber, &h.process, &h.material, &h.thickness,
		&h.company, &h.date, &h.avgConf, last}
}

func (h *hitRow) hit(snippet string) entity.SearchHit {
	out := entity.SearchHit{
		ID:        h.id,
		DocType:   h.docType,
		DocNumber: h.docNumber.String,
		Process:   h.process.String,
		Material:  h.material.String,
		Company:   h.company.String,
		Date:      h.date.String,
		Snippet:   snippet,
	}
	if h.thickness.Valid {
		out.ThicknessMM = strconv.FormatFloat(h.thickness.Float64, 'f', -1, 64)
	}
	if h.avgConf.Valid {
		out.AvgConf = strconv.FormatFloat(h.avgConf.Float64, 'f', 2, 64)
	}
	return out
}

func (r *documentRepo) queryDocuments(ctx context.Context, q string, args []any) ([]*entity.StoredDocument, error) {
	var rows entsql.Rows
	if err := r.store.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.StoredDocument
	for rows.Next() {
		var (
			doc                     entity.StoredDocument
			docType                 string
			number, process         sql.NullString
			material, filler, gas   sql.NullString
			position, company, date sql.NullString
			thickness               sql.NullFloat64
			fieldsJSON, importedAt  string
		)
		err := rows.Scan(&doc.ID, &doc.FilePath, &docType, &number, &process, &material,
			&thickness, &filler, &gas, &position, &company, &date,
			&doc.AvgConf, &doc.ClassificationConfidence, &fieldsJSON, &doc.RawText, &importedAt)
		if err != nil {
			return nil, err
		}
		doc.DocType = constants.DocType(docType)
		doc.DocNumber = number.String
		doc.Process = process.String
		doc.Material = material.String
		doc.Filler = filler.String
		doc.ShieldingGas = gas.String
		doc.Position = position.String
		doc.Company = company.String
		doc.Date = date.String
		if thickness.Valid {
			v := thickness.Float64
			doc.ThicknessMM = &v
		}
		if fieldsJSON != "" {
			if err := json.Unmarshal([]byte(fieldsJSON), &doc.Fields); err != nil {
				return nil, fmt.Errorf("decode fields of document %d: %w", doc.ID, err)
			}
		}
		if doc.ImportedAt, err = time.Parse(time.RFC3339Nano, importedAt); err != nil {
			return nil, fmt.Errorf("decode imported_at of document %d: %w", doc.ID, err)
		}
		out = append(out, &doc)
	}
	return out, rows.Err()
}

func (r *documentRepo) issues(ctx context.Context, id int64) ([]entity.ValidationIssue, error) {
	q, args := entsql.Dialect(r.store.dialect).
		Select("field", "severity", "message").
		From(entsql.Table("validation_issues")).
		Where(entsql.EQ("document_id", id)).
		OrderBy("id").
		Query()

	var rows entsql.Rows
	if err := r.store.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []entity.ValidationIssue{}
	for rows.Next() {
		var field, severity, message string
		if err := rows.Scan(&field, &severity, &message); err != nil {
			return nil, err
		}
		out = append(out, entity.ValidationIssue{
			Field:    entity.FieldName(field),
			Severity: constants.Severity(severity),
			Message:  message,
		})
	}
	return out, rows.Err()
}
