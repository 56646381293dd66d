package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Users and roles

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, COALESCE(first_name, ''), COALESCE(last_name, ''), created_at
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`, email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	role, err := s.deriveRole(ctx, user.ID)
	if err != nil {
		return User{}, err
	}
	user.Role = role
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, COALESCE(first_name, ''), COALESCE(last_name, ''), created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	role, err := s.deriveRole(ctx, user.ID)
	if err != nil {
		return User{}, err
	}
	user.Role = role
	return user, nil
}

// deriveRole prefers admin when an identity holds several role rows and
// falls back to client when it holds none.
func (s *PostgresStore) deriveRole(ctx context.Context, userID string) (string, error) {
	roles, err := s.ListRoles(ctx, userID)
	if err != nil {
		return "", err
	}
	for _, role := range roles {
		if role == "admin" {
			return "admin", nil
		}
	}
	return "client", nil
}

func (s *PostgresStore) ListRoles(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role FROM user_roles WHERE user_id=$1 ORDER BY role ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	roles := make([]string, 0)
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return roles, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name)
		VALUES ($1, LOWER($2), $3, NULLIF($4, ''), NULLIF($5, ''))
	`, user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2 WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteUser removes the role rows first, then the identity. A missing
// identity row is tolerated: the roles are gone either way.
func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id=$1`, userID); err != nil {
		return fmt.Errorf("delete user roles: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertUserRole(ctx context.Context, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (user_id, role) DO NOTHING
	`, userID, role)
	if err != nil {
		return fmt.Errorf("upsert user role: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAdminUsers(ctx context.Context) ([]AdminUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.email, ur.created_at
		FROM user_roles ur
		JOIN users u ON u.id = ur.user_id
		WHERE ur.role = 'admin'
		ORDER BY ur.created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list admin users: %w", err)
	}
	defer rows.Close()

	items := make([]AdminUser, 0)
	for rows.Next() {
		var item AdminUser
		if err := rows.Scan(&item.ID, &item.Email, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan admin user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admin users: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Refresh sessions and token revocation

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Email)
	if err != nil {
		return User{}, err
	}
	role, err := s.deriveRole(ctx, user.ID)
	if err != nil {
		return User{}, err
	}
	user.Role = role
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---------------------------------------------------------------------------
// Companies

func (s *PostgresStore) ListCompanies(ctx context.Context) ([]Company, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, created_at
		FROM companies
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()

	items := make([]Company, 0)
	for rows.Next() {
		var item Company
		if err := rows.Scan(&item.ID, &item.Name, &item.Email, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate companies: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCompany(ctx context.Context, companyID string) (Company, error) {
	var item Company
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, created_at FROM companies WHERE id=$1
	`, companyID).Scan(&item.ID, &item.Name, &item.Email, &item.CreatedAt)
	if err != nil {
		return Company{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetCompanyByEmail(ctx context.Context, email string) (Company, error) {
	var item Company
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, created_at FROM companies WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&item.ID, &item.Name, &item.Email, &item.CreatedAt)
	if err != nil {
		return Company{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertCompany(ctx context.Context, company Company) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO companies (id, name, email)
		VALUES ($1, $2, LOWER($3))
	`, company.ID, company.Name, company.Email)
	if err != nil {
		return fmt.Errorf("insert company: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCompany(ctx context.Context, companyID, name, email string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE companies SET name=$2, email=LOWER($3) WHERE id=$1
	`, companyID, name, email)
	if err != nil {
		return fmt.Errorf("update company: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update company rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteCompanyCascade removes the company, its projects, their junction
// rows, and every document that ends up with no remaining project link.
// Everything runs in one transaction; stored objects are reported back for
// cleanup, never touched here.
func (s *PostgresStore) DeleteCompanyCascade(ctx context.Context, companyID string) (CascadeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CascadeResult{}, fmt.Errorf("begin company cascade: %w", err)
	}
	defer tx.Rollback()

	var result CascadeResult
	if err := tx.QueryRowContext(ctx, `SELECT email FROM companies WHERE id=$1`, companyID).Scan(&result.CompanyEmail); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CascadeResult{}, sql.ErrNoRows
		}
		return CascadeResult{}, fmt.Errorf("lookup company email: %w", err)
	}

	projectIDs, err := listProjectIDsTx(ctx, tx, `SELECT id FROM projects WHERE company_id=$1`, companyID)
	if err != nil {
		return CascadeResult{}, err
	}
	result.ProjectIDs = projectIDs

	docIDs, filePaths, err := unlinkAndCollectOrphans(ctx, tx, projectIDs)
	if err != nil {
		return CascadeResult{}, err
	}
	result.DocumentIDs = docIDs
	result.FilePaths = filePaths

	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE company_id=$1`, companyID); err != nil {
		return CascadeResult{}, fmt.Errorf("delete projects: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM companies WHERE id=$1`, companyID); err != nil {
		return CascadeResult{}, fmt.Errorf("delete company: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return CascadeResult{}, fmt.Errorf("commit company cascade: %w", err)
	}
	return result, nil
}

// DeleteProjectCascade removes one project, its junction rows, and any
// document orphaned by the removal, in one transaction.
func (s *PostgresStore) DeleteProjectCascade(ctx context.Context, projectID string) (CascadeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CascadeResult{}, fmt.Errorf("begin project cascade: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM projects WHERE id=$1)`, projectID).Scan(&exists); err != nil {
		return CascadeResult{}, fmt.Errorf("lookup project: %w", err)
	}
	if !exists {
		return CascadeResult{}, sql.ErrNoRows
	}

	docIDs, filePaths, err := unlinkAndCollectOrphans(ctx, tx, []string{projectID})
	if err != nil {
		return CascadeResult{}, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID); err != nil {
		return CascadeResult{}, fmt.Errorf("delete project: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return CascadeResult{}, fmt.Errorf("commit project cascade: %w", err)
	}
	return CascadeResult{ProjectIDs: []string{projectID}, DocumentIDs: docIDs, FilePaths: filePaths}, nil
}

func listProjectIDsTx(ctx context.Context, tx *sql.Tx, query string, arg any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list project ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project ids: %w", err)
	}
	return ids, nil
}

// unlinkAndCollectOrphans drops the junction rows for the given projects
// and deletes every document left without a link, returning the removed
// document ids and the object keys of the stored-file ones.
func unlinkAndCollectOrphans(ctx context.Context, tx *sql.Tx, projectIDs []string) (docIDs, filePaths []string, err error) {
	candidates := make(map[string]struct{})
	for _, projectID := range projectIDs {
		rows, err := tx.QueryContext(ctx, `SELECT document_id FROM document_projects WHERE project_id=$1`, projectID)
		if err != nil {
			return nil, nil, fmt.Errorf("list document links: %w", err)
		}
		for rows.Next() {
			var docID string
			if err := rows.Scan(&docID); err != nil {
				rows.Close()
				return nil, nil, fmt.Errorf("scan document link: %w", err)
			}
			candidates[docID] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("iterate document links: %w", err)
		}
		rows.Close()

		if _, err := tx.ExecContext(ctx, `DELETE FROM document_projects WHERE project_id=$1`, projectID); err != nil {
			return nil, nil, fmt.Errorf("delete document links: %w", err)
		}
	}

	docIDs = make([]string, 0, len(candidates))
	filePaths = make([]string, 0, len(candidates))
	for docID := range candidates {
		var linked bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM document_projects WHERE document_id=$1)`, docID).Scan(&linked); err != nil {
			return nil, nil, fmt.Errorf("check document links: %w", err)
		}
		if linked {
			continue
		}
		var filePath string
		var isURL bool
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(file_path, ''), is_url FROM documents WHERE id=$1`, docID).Scan(&filePath, &isURL); err != nil {
			return nil, nil, fmt.Errorf("lookup orphan document: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, docID); err != nil {
			return nil, nil, fmt.Errorf("delete orphan document: %w", err)
		}
		docIDs = append(docIDs, docID)
		if !isURL && filePath != "" {
			filePaths = append(filePaths, filePath)
		}
	}
	return docIDs, filePaths, nil
}

// ---------------------------------------------------------------------------
// Projects

const projectColumns = `
	p.id, p.name, COALESCE(p.description, ''), p.company_id, p.is_default, p.created_at, c.name
`

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects p
		JOIN companies c ON c.id = p.company_id
		ORDER BY p.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	return scanProjects(rows)
}

func (s *PostgresStore) ListProjectsByCompany(ctx context.Context, companyID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects p
		JOIN companies c ON c.id = p.company_id
		WHERE p.company_id = $1
		ORDER BY p.created_at DESC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list company projects: %w", err)
	}
	defer rows.Close()
	return scanProjects(rows)
}

func scanProjects(rows *sql.Rows) ([]Project, error) {
	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.CompanyID, &item.IsDefault, &item.CreatedAt, &item.CompanyName); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects p
		JOIN companies c ON c.id = p.company_id
		WHERE p.id = $1
	`, projectID).Scan(&item.ID, &item.Name, &item.Description, &item.CompanyID, &item.IsDefault, &item.CreatedAt, &item.CompanyName)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, company_id, is_default)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
	`, project.ID, project.Name, project.Description, project.CompanyID, project.IsDefault)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, projectID, name, description, companyID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE projects SET name=$2, description=NULLIF($3, ''), company_id=$4 WHERE id=$1
	`, projectID, name, description, companyID)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update project rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---------------------------------------------------------------------------
// Documents

const documentColumns = `
	d.id, d.name, COALESCE(d.original_file_name, ''), COALESCE(d.file_path, ''),
	COALESCE(d.file_type, ''), COALESCE(d.file_size, 0), d.document_type, d.is_url,
	COALESCE(d.url, ''), COALESCE(d.url_excerpt, ''), COALESCE(d.url_publication_date, ''),
	COALESCE(d.url_source, ''), d.created_at
`

func scanDocument(row interface{ Scan(...any) error }, item *Document) error {
	return row.Scan(
		&item.ID,
		&item.Name,
		&item.OriginalFileName,
		&item.FilePath,
		&item.FileType,
		&item.FileSize,
		&item.DocumentType,
		&item.IsURL,
		&item.URL,
		&item.URLExcerpt,
		&item.URLPublicationDate,
		&item.URLSource,
		&item.CreatedAt,
	)
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`,
			COALESCE((SELECT dp.project_id FROM document_projects dp WHERE dp.document_id=d.id ORDER BY dp.project_id ASC LIMIT 1), '')
		FROM documents d
		ORDER BY d.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(
			&item.ID, &item.Name, &item.OriginalFileName, &item.FilePath,
			&item.FileType, &item.FileSize, &item.DocumentType, &item.IsURL,
			&item.URL, &item.URLExcerpt, &item.URLPublicationDate,
			&item.URLSource, &item.CreatedAt, &item.ProjectID,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	err := scanDocument(s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents d WHERE d.id=$1
	`, documentID), &item)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

// PublishDocument inserts the document row and one junction row per target
// project in a single transaction, so a document can never be left published
// to some-but-not-all of the selected projects.
func (s *PostgresStore) PublishDocument(ctx context.Context, doc Document, projectIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin publish: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, name, original_file_name, file_path, file_type, file_size,
			document_type, is_url, url, url_excerpt, url_publication_date, url_source)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, 0),
			$7, $8, NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''))
	`, doc.ID, doc.Name, doc.OriginalFileName, doc.FilePath, doc.FileType, doc.FileSize,
		doc.DocumentType, doc.IsURL, doc.URL, doc.URLExcerpt, doc.URLPublicationDate, doc.URLSource)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	for _, projectID := range projectIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_projects (document_id, project_id)
			VALUES ($1, $2)
			ON CONFLICT (document_id, project_id) DO NOTHING
		`, doc.ID, projectID); err != nil {
			return fmt.Errorf("link document to project: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit publish: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM document_projects WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("delete document links: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListDocumentLinks(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id FROM document_projects WHERE document_id=$1 ORDER BY project_id ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list document links: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document link: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document links: %w", err)
	}
	return ids, nil
}

// ListProjectDocumentLinks returns the junction rows for one project.
func (s *PostgresStore) ListProjectDocumentLinks(ctx context.Context, projectID string) ([]DocumentProject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, project_id FROM document_projects WHERE project_id=$1
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project document links: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentProject, 0)
	for rows.Next() {
		var item DocumentProject
		if err := rows.Scan(&item.DocumentID, &item.ProjectID); err != nil {
			return nil, fmt.Errorf("scan project document link: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project document links: %w", err)
	}
	return items, nil
}

// ListCompaniesForProjects resolves the distinct owning companies of a set
// of projects. Used to fan out publish notifications.
func (s *PostgresStore) ListCompaniesForProjects(ctx context.Context, projectIDs []string) ([]Company, error) {
	seen := make(map[string]struct{})
	items := make([]Company, 0)
	for _, projectID := range projectIDs {
		var item Company
		err := s.db.QueryRowContext(ctx, `
			SELECT c.id, c.name, c.email, c.created_at
			FROM projects p
			JOIN companies c ON c.id = p.company_id
			WHERE p.id = $1
		`, projectID).Scan(&item.ID, &item.Name, &item.Email, &item.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup project company: %w", err)
		}
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		items = append(items, item)
	}
	return items, nil
}
