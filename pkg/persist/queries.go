package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/japaniel/readmark/pkg/anchor"
	"github.com/japaniel/readmark/pkg/annotation"
)

// DBExecutor lets the query helpers run on either *sql.DB or *sql.Tx.
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Document is a loaded text that annotations belong to.
type Document struct {
	ID          int64
	Location    string
	Title       string
	Byline      string
	Site        string
	ContentHash string
	AddedAt     time.Time
}

// ErrNoDocument is returned when a lookup matches no document row.
var ErrNoDocument = errors.New("document not found")

func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unique") || strings.Contains(s, "constraint failed")
}

// CreateOrGetDocument returns the id of the document with this location
// and content hash, inserting it first if needed. A changed hash is a new
// document: annotations are anchored to one version of the text.
func CreateOrGetDocument(ctx context.Context, db DBExecutor, d Document) (int64, error) {
	location := strings.TrimSpace(d.Location)
	if location == "" {
		return 0, fmt.Errorf("document location must be non-empty")
	}
	if d.ContentHash == "" {
		return 0, fmt.Errorf("document content hash must be non-empty")
	}

	const maxRetries = 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		var id int64
		err := db.QueryRowContext(ctx,
			`SELECT id FROM documents WHERE location = ? AND content_hash = ?`,
			location, d.ContentHash,
		).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, err
		}

		res, err := db.ExecContext(ctx,
			`INSERT INTO documents (location, title, byline, site, content_hash) VALUES (?, ?, ?, ?, ?)`,
			location, d.Title, d.Byline, d.Site, d.ContentHash,
		)
		if err != nil {
			if isUniqueConstraintErr(err) {
				continue
			}
			return 0, err
		}
		return res.LastInsertId()
	}
	return 0, fmt.Errorf("could not create or get document after %d retries", maxRetries)
}

// LatestDocument returns the current version of location: the newest one
// holding annotations, or the newest one when none does. Annotations follow
// the version last opened, so this is also the version last read.
func LatestDocument(ctx context.Context, db DBExecutor, location string) (Document, error) {
	var (
		d                   Document
		title, byline, site sql.NullString
	)
	err := db.QueryRowContext(ctx,
		`SELECT id, location, title, byline, site, content_hash, added_at FROM documents
		 WHERE location = ?
		 ORDER BY EXISTS (SELECT 1 FROM annotations a WHERE a.document_id = documents.id) DESC,
		          added_at DESC, id DESC
		 LIMIT 1`, location,
	).Scan(&d.ID, &d.Location, &title, &byline, &site, &d.ContentHash, &d.AddedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNoDocument
	}
	if err != nil {
		return Document{}, err
	}
	d.Title, d.Byline, d.Site = title.String, byline.String, site.String
	return d, nil
}

// ListDocuments returns every document, newest first.
func ListDocuments(ctx context.Context, db DBExecutor) ([]Document, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, location, title, byline, site, content_hash, added_at FROM documents ORDER BY added_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		var title, byline, site sql.NullString
		if err := rows.Scan(&d.ID, &d.Location, &title, &byline, &site, &d.ContentHash, &d.AddedAt); err != nil {
			return nil, err
		}
		d.Title, d.Byline, d.Site = title.String, byline.String, site.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveAnnotation inserts a or replaces the stored copy with the same id.
func SaveAnnotation(ctx context.Context, db DBExecutor, documentID int64, a annotation.Annotation) error {
	if documentID <= 0 {
		return fmt.Errorf("documentID must be positive")
	}
	if a.ID == "" {
		return fmt.Errorf("annotation id must be non-empty")
	}
	examples, err := json.Marshal(nonNil(a.Examples))
	if err != nil {
		return fmt.Errorf("encode examples: %w", err)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO annotations (
		id, document_id, kind, primary_text, context, translation, examples, metadata_state,
		lemma, reading, exact, prefix, suffix, start_hint, end_hint, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		context = excluded.context,
		translation = excluded.translation,
		examples = excluded.examples,
		metadata_state = excluded.metadata_state,
		lemma = excluded.lemma,
		reading = excluded.reading,
		exact = excluded.exact,
		prefix = excluded.prefix,
		suffix = excluded.suffix,
		start_hint = excluded.start_hint,
		end_hint = excluded.end_hint,
		updated_at = excluded.updated_at`,
		string(a.ID), documentID, string(a.Kind), a.PrimaryText, a.Context, a.Translation, string(examples), string(a.Metadata),
		a.Lemma, a.Reading, a.Anchors.Exact, a.Anchors.Prefix, a.Anchors.Suffix, a.Anchors.Start, a.Anchors.End,
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save annotation %s: %w", a.ID, err)
	}
	return nil
}

// DeleteAnnotation removes the annotation with id. Missing rows are not an
// error.
func DeleteAnnotation(ctx context.Context, db DBExecutor, id annotation.ID) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM annotations WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete annotation %s: %w", id, err)
	}
	return nil
}

// MoveAnnotations hands every annotation of one document version to
// another and returns how many moved.
func MoveAnnotations(ctx context.Context, db DBExecutor, fromDocumentID, toDocumentID int64) (int64, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE annotations SET document_id = ? WHERE document_id = ?`, toDocumentID, fromDocumentID)
	if err != nil {
		return 0, fmt.Errorf("move annotations: %w", err)
	}
	return res.RowsAffected()
}

// LoadAnnotations returns the annotations of a document in text order.
func LoadAnnotations(ctx context.Context, db DBExecutor, documentID int64) ([]annotation.Annotation, error) {
	rows, err := db.QueryContext(ctx, `SELECT
		id, kind, primary_text, context, translation, examples, metadata_state,
		lemma, reading, exact, prefix, suffix, start_hint, end_hint, created_at, updated_at
	FROM annotations WHERE document_id = ? ORDER BY start_hint, end_hint DESC, id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []annotation.Annotation
	for rows.Next() {
		var (
			a                         annotation.Annotation
			id, kind, state, examples string
			span                      anchor.Span
		)
		if err := rows.Scan(&id, &kind, &a.PrimaryText, &a.Context, &a.Translation, &examples, &state,
			&a.Lemma, &a.Reading, &span.Exact, &span.Prefix, &span.Suffix, &span.Start, &span.End,
			&a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.ID = annotation.ID(id)
		a.Kind = annotation.Kind(kind)
		a.Metadata = annotation.MetadataState(state)
		a.Anchors = span
		if err := json.Unmarshal([]byte(examples), &a.Examples); err != nil {
			return nil, fmt.Errorf("decode examples of %s: %w", id, err)
		}
		if len(a.Examples) == 0 {
			a.Examples = nil
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountByKind returns how many annotations of each kind a document has.
func CountByKind(ctx context.Context, db DBExecutor, documentID int64) (map[annotation.Kind]int, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM annotations WHERE document_id = ? GROUP BY kind`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[annotation.Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[annotation.Kind(kind)] = n
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
