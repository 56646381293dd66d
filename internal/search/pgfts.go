package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher with plain ILIKE matching in PostgreSQL as a
// fallback when Meilisearch is unavailable.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL fallback searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches documents by name, excerpt, or source, optionally
// narrowed to one document type or one owning company.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := `(d.name ILIKE $1 OR COALESCE(d.url_excerpt, '') ILIKE $1 OR COALESCE(d.url_source, '') ILIKE $1)`
	args := []any{"%" + q.Text + "%"}
	argN := 2

	if q.FilterDocType != "" {
		where += fmt.Sprintf(" AND d.document_type = $%d", argN)
		args = append(args, q.FilterDocType)
		argN++
	}
	if q.FilterCompany != "" {
		where += fmt.Sprintf(` AND EXISTS (
			SELECT 1 FROM document_projects dp
			JOIN projects pr ON pr.id = dp.project_id
			WHERE dp.document_id = d.id AND pr.company_id = $%d
		)`, argN)
		args = append(args, q.FilterCompany)
		argN++
	}

	ctx := context.Background()

	var total int
	countSQL := fmt.Sprintf(`SELECT count(*) FROM documents d WHERE %s`, where)
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pg search count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT d.id, d.name, COALESCE(d.url_excerpt, ''), d.document_type, d.is_url,
			COALESCE((
				SELECT c.name FROM document_projects dp
				JOIN projects pr ON pr.id = dp.project_id
				JOIN companies c ON c.id = pr.company_id
				WHERE dp.document_id = d.id
				ORDER BY c.name ASC LIMIT 1
			), '')
		FROM documents d
		WHERE %s
		ORDER BY d.created_at DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pg search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Name, &r.Snippet, &r.DocumentType, &r.IsURL, &r.CompanyName); err != nil {
			return nil, 0, fmt.Errorf("pg search scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all documents for full reindexing, each with the
// ids and a representative name of its owning companies.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT d.id, d.name, d.document_type, d.is_url,
			COALESCE(d.url_excerpt, ''), COALESCE(d.url_source, '')
		FROM documents d
	`)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	documents := make([]DocumentRecord, 0)
	for rows.Next() {
		var d DocumentRecord
		if err := rows.Scan(&d.ID, &d.Name, &d.DocumentType, &d.IsURL, &d.Excerpt, &d.Source); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	for i := range documents {
		companyRows, err := p.db.QueryContext(ctx, `
			SELECT DISTINCT c.id, c.name
			FROM document_projects dp
			JOIN projects pr ON pr.id = dp.project_id
			JOIN companies c ON c.id = pr.company_id
			WHERE dp.document_id = $1
			ORDER BY c.name ASC
		`, documents[i].ID)
		if err != nil {
			return nil, fmt.Errorf("load document companies: %w", err)
		}
		for companyRows.Next() {
			var id, name string
			if err := companyRows.Scan(&id, &name); err != nil {
				companyRows.Close()
				return nil, fmt.Errorf("scan document company: %w", err)
			}
			documents[i].CompanyIDs = append(documents[i].CompanyIDs, id)
			if documents[i].CompanyName == "" {
				documents[i].CompanyName = name
			}
		}
		if err := companyRows.Err(); err != nil {
			companyRows.Close()
			return nil, fmt.Errorf("iterate document companies: %w", err)
		}
		companyRows.Close()
	}

	return documents, nil
}
