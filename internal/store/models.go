package store

import "time"

// User is an auth identity. Companies and administrators both sign in
// through one of these; what they can do is driven by user_roles rows.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         string
	CreatedAt    time.Time
}

type UserRole struct {
	UserID    string
	Role      string
	CreatedAt time.Time
}

// AdminUser is the derived console view of an identity holding the admin
// role. Email comes from the users table, not a separate admin table.
type AdminUser struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// Company is a client-organization tenant. Exactly one auth identity maps
// to a company, matched by email.
type Company struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

type Project struct {
	ID          string
	Name        string
	Description string
	CompanyID   string
	IsDefault   bool
	CreatedAt   time.Time
	// Joined for console listings
	CompanyName string
}

// Document is either a stored file (FilePath set, IsURL false) or an
// external link (URL set, IsURL true). It may be published into several
// projects through the document_projects junction table.
type Document struct {
	ID                 string
	Name               string
	OriginalFileName   string
	FilePath           string
	FileType           string
	FileSize           int64
	DocumentType       string
	IsURL              bool
	URL                string
	URLExcerpt         string
	URLPublicationDate string
	URLSource          string
	CreatedAt          time.Time
	// Representative project for grouping in dashboard/console views
	ProjectID string
}

type DocumentProject struct {
	DocumentID string
	ProjectID  string
}

// CascadeResult reports what a company or project cascade removed, so the
// caller can clean up stored objects afterwards.
type CascadeResult struct {
	ProjectIDs   []string
	DocumentIDs  []string
	FilePaths    []string
	CompanyEmail string
}
