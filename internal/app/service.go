package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"portal/api/internal/accounts"
	"portal/api/internal/auth"
	"portal/api/internal/blob"
	"portal/api/internal/config"
	"portal/api/internal/email"
	"portal/api/internal/rbac"
	"portal/api/internal/search"
	"portal/api/internal/store"
	"portal/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// PublishDocumentInput carries one publish request. Exactly one of the
// file arm (File set) and the link arm (URL set) must be present.
type PublishDocumentInput struct {
	Name         string
	DocumentType string
	ProjectIDs   []string

	File     io.Reader
	FileName string
	FileType string
	FileSize int64

	URL                string
	URLExcerpt         string
	URLPublicationDate string
	URLSource          string

	Notify bool
}

var allowedDocumentTypes = map[string]struct{}{
	"manual":      {},
	"plano":       {},
	"archivo":     {},
	"normativa":   {},
	"doc_oficial": {},
	"otro":        {},
}

type dataStore interface {
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	DeleteUser(context.Context, string) error
	ListAdminUsers(context.Context) ([]store.AdminUser, error)

	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	ListCompanies(context.Context) ([]store.Company, error)
	GetCompany(context.Context, string) (store.Company, error)
	GetCompanyByEmail(context.Context, string) (store.Company, error)
	InsertCompany(context.Context, store.Company) error
	UpdateCompany(context.Context, string, string, string) error
	DeleteCompanyCascade(context.Context, string) (store.CascadeResult, error)

	ListProjects(context.Context) ([]store.Project, error)
	ListProjectsByCompany(context.Context, string) ([]store.Project, error)
	GetProject(context.Context, string) (store.Project, error)
	InsertProject(context.Context, store.Project) error
	UpdateProject(context.Context, string, string, string, string) error
	DeleteProjectCascade(context.Context, string) (store.CascadeResult, error)

	ListDocuments(context.Context) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	PublishDocument(context.Context, store.Document, []string) error
	DeleteDocument(context.Context, string) error
	ListDocumentLinks(context.Context, string) ([]string, error)
	ListProjectDocumentLinks(context.Context, string) ([]store.DocumentProject, error)
	ListCompaniesForProjects(context.Context, []string) ([]store.Company, error)

	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type blobStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}

type mailer interface {
	IsConfigured() bool
	SendUpdateNotification(ctx context.Context, to string, bcc []string, data email.NotificationData) error
	SendSupportEmail(ctx context.Context, req email.SupportRequest) error
}

type searcher interface {
	Search(q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	DeleteDocument(id string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	blob     blobStore
	mail     mailer
	search   searcher
	accounts *accounts.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, blobStore *blob.Store, mailService *email.Service, searchService *search.Service, accountsService *accounts.Service) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		accounts: accountsService,
	}
	if blobStore != nil {
		s.blob = blobStore
	}
	if mailService != nil {
		s.mail = mailService
	}
	if searchService != nil {
		s.search = searchService
	}
	return s
}

// SetSessionStore swaps the refresh-session backend, used when Redis is
// configured. The Postgres store remains the default.
func (s *Service) SetSessionStore(sessions sessionStore) {
	s.sessions = sessions
}

// Bootstrap provisions the configured bootstrap admin, if any, and warms
// the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.cfg.BootstrapAdminEmail != "" && s.cfg.BootstrapAdminPassword != "" {
		if _, err := s.accounts.BootstrapAdmin(ctx, accounts.CreateUserRequest{
			Email:    s.cfg.BootstrapAdminEmail,
			Password: s.cfg.BootstrapAdminPassword,
		}); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ---------------------------------------------------------------------------
// Sessions

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, emailAddr, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	record, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// Re-read the identity so a rotated password or changed role takes
	// effect on the next refresh.
	user, err := s.store.GetUserByID(ctx, record.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Logout always succeeds: a sign-out must never strand the caller.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// ---------------------------------------------------------------------------
// Client dashboard

func (s *Service) Dashboard(ctx context.Context, session Session) (map[string]any, error) {
	company, err := s.store.GetCompanyByEmail(ctx, session.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "NO_COMPANY", "No company is linked to this account", nil)
	}
	if err != nil {
		return nil, err
	}

	projects, err := s.store.ListProjectsByCompany(ctx, company.ID)
	if err != nil {
		return nil, err
	}

	// The same document can be published to several of the company's
	// projects; show it once, under the first project it was seen in.
	projectByDoc := make(map[string]string)
	order := make([]string, 0)
	for _, project := range projects {
		links, err := s.store.ListProjectDocumentLinks(ctx, project.ID)
		if err != nil {
			return nil, err
		}
		for _, link := range links {
			if _, ok := projectByDoc[link.DocumentID]; ok {
				continue
			}
			projectByDoc[link.DocumentID] = project.ID
			order = append(order, link.DocumentID)
		}
	}

	documents := make([]store.Document, 0, len(order))
	for _, docID := range order {
		doc, err := s.store.GetDocument(ctx, docID)
		if err != nil {
			return nil, err
		}
		doc.ProjectID = projectByDoc[docID]
		documents = append(documents, doc)
	}
	sort.Slice(documents, func(i, j int) bool {
		return documents[i].CreatedAt.After(documents[j].CreatedAt)
	})

	var lastUpdate any
	if len(documents) > 0 {
		lastUpdate = documents[0].CreatedAt.Format(time.RFC3339)
	}

	projectItems := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		projectItems = append(projectItems, projectItem(project))
	}
	documentItems := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		documentItems = append(documentItems, documentItem(doc))
	}

	return map[string]any{
		"company": map[string]any{
			"id":    company.ID,
			"name":  company.Name,
			"email": company.Email,
		},
		"projects":   projectItems,
		"documents":  documentItems,
		"lastUpdate": lastUpdate,
	}, nil
}

// DocumentDownload resolves a download. Link documents come back with a
// nil reader; the caller redirects to doc.URL. Clients can only reach
// documents published to their own company's projects.
func (s *Service) DocumentDownload(ctx context.Context, session Session, documentID string) (store.Document, io.ReadCloser, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, nil, err
	}

	if rbac.Normalize(session.Role) != rbac.RoleAdmin {
		allowed, err := s.clientCanAccess(ctx, session, documentID)
		if err != nil {
			return store.Document{}, nil, err
		}
		if !allowed {
			return store.Document{}, nil, sql.ErrNoRows
		}
	}

	if doc.IsURL {
		return doc, nil, nil
	}
	if doc.FilePath == "" {
		return store.Document{}, nil, sql.ErrNoRows
	}
	if s.blob == nil {
		return store.Document{}, nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Document storage is not configured", nil)
	}
	rc, err := s.blob.Download(ctx, doc.FilePath)
	if err != nil {
		return store.Document{}, nil, err
	}
	return doc, rc, nil
}

func (s *Service) clientCanAccess(ctx context.Context, session Session, documentID string) (bool, error) {
	company, err := s.store.GetCompanyByEmail(ctx, session.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	projects, err := s.store.ListProjectsByCompany(ctx, company.ID)
	if err != nil {
		return false, err
	}
	owned := make(map[string]struct{}, len(projects))
	for _, project := range projects {
		owned[project.ID] = struct{}{}
	}
	links, err := s.store.ListDocumentLinks(ctx, documentID)
	if err != nil {
		return false, err
	}
	for _, projectID := range links {
		if _, ok := owned[projectID]; ok {
			return true, nil
		}
	}
	return false, nil
}

// ---------------------------------------------------------------------------
// Companies

func (s *Service) ListCompanies(ctx context.Context) ([]map[string]any, error) {
	companies, err := s.store.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(companies))
	for _, company := range companies {
		items = append(items, map[string]any{
			"id":        company.ID,
			"name":      company.Name,
			"email":     company.Email,
			"createdAt": company.CreatedAt.Format(time.RFC3339),
		})
	}
	return items, nil
}

// CreateCompany provisions the portal identity, the company row, and a
// default project, in that order.
func (s *Service) CreateCompany(ctx context.Context, name, emailAddr, password string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
	}

	if _, err := s.accounts.CreateUser(ctx, accounts.CreateUserRequest{
		Email:    emailAddr,
		Password: password,
	}); err != nil {
		return nil, err
	}

	company := store.Company{
		ID:    util.NewID("com"),
		Name:  name,
		Email: emailAddr,
	}
	if err := s.store.InsertCompany(ctx, company); err != nil {
		return nil, err
	}

	project := store.Project{
		ID:        util.NewID("prj"),
		Name:      "General",
		CompanyID: company.ID,
		IsDefault: true,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return nil, err
	}

	return map[string]any{
		"id":               company.ID,
		"name":             company.Name,
		"email":            company.Email,
		"defaultProjectId": project.ID,
	}, nil
}

func (s *Service) UpdateCompany(ctx context.Context, companyID, name, emailAddr string) error {
	if strings.TrimSpace(name) == "" {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
	}
	return s.store.UpdateCompany(ctx, companyID, strings.TrimSpace(name), emailAddr)
}

// DeleteCompany removes the company and everything hanging off it. Row
// deletion is transactional in the store; stored objects and the portal
// identity are cleaned up afterwards, best-effort.
func (s *Service) DeleteCompany(ctx context.Context, companyID string) (map[string]any, error) {
	result, err := s.store.DeleteCompanyCascade(ctx, companyID)
	if err != nil {
		return nil, err
	}

	for _, filePath := range result.FilePaths {
		if s.blob == nil {
			break
		}
		if err := s.blob.Remove(ctx, filePath); err != nil {
			log.Printf("cascade: remove object %s: %v", filePath, err)
		}
	}
	if s.search != nil {
		for _, docID := range result.DocumentIDs {
			s.search.DeleteDocument(docID)
		}
	}

	if user, err := s.store.GetUserByEmail(ctx, result.CompanyEmail); err == nil {
		if err := s.store.DeleteUser(ctx, user.ID); err != nil {
			log.Printf("cascade: delete identity %s: %v", result.CompanyEmail, err)
		}
	}

	return map[string]any{
		"ok":               true,
		"deletedProjects":  len(result.ProjectIDs),
		"deletedDocuments": len(result.DocumentIDs),
	}, nil
}

// ---------------------------------------------------------------------------
// Projects

func (s *Service) ListProjects(ctx context.Context) ([]map[string]any, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		items = append(items, projectItem(project))
	}
	return items, nil
}

func (s *Service) CreateProject(ctx context.Context, name, description, companyID string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
	}
	if _, err := s.store.GetCompany(ctx, companyID); err != nil {
		return nil, err
	}
	project := store.Project{
		ID:          util.NewID("prj"),
		Name:        name,
		Description: strings.TrimSpace(description),
		CompanyID:   companyID,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return nil, err
	}
	return projectItem(project), nil
}

func (s *Service) UpdateProject(ctx context.Context, projectID, name, description, companyID string) error {
	if strings.TrimSpace(name) == "" {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
	}
	if companyID != "" {
		if _, err := s.store.GetCompany(ctx, companyID); err != nil {
			return err
		}
	} else {
		project, err := s.store.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		companyID = project.CompanyID
	}
	return s.store.UpdateProject(ctx, projectID, strings.TrimSpace(name), strings.TrimSpace(description), companyID)
}

func (s *Service) DeleteProject(ctx context.Context, projectID string) (map[string]any, error) {
	result, err := s.store.DeleteProjectCascade(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, filePath := range result.FilePaths {
		if s.blob == nil {
			break
		}
		if err := s.blob.Remove(ctx, filePath); err != nil {
			log.Printf("cascade: remove object %s: %v", filePath, err)
		}
	}
	if s.search != nil {
		for _, docID := range result.DocumentIDs {
			s.search.DeleteDocument(docID)
		}
	}
	return map[string]any{
		"ok":               true,
		"deletedDocuments": len(result.DocumentIDs),
	}, nil
}

// ---------------------------------------------------------------------------
// Documents

func (s *Service) ListDocuments(ctx context.Context) ([]map[string]any, error) {
	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		item := documentItem(doc)
		links, err := s.store.ListDocumentLinks(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		item["projectIds"] = links
		items = append(items, item)
	}
	return items, nil
}

// PublishDocument validates, uploads the file arm if present, writes the
// document plus its junction rows in one transaction, and fans out one
// notification per owning company. A failed transaction after an upload
// removes the uploaded object again.
func (s *Service) PublishDocument(ctx context.Context, input PublishDocumentInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
	}
	if _, ok := allowedDocumentTypes[input.DocumentType]; !ok {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid document type", nil)
	}
	if len(input.ProjectIDs) == 0 {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "at least one project is required", nil)
	}
	hasFile := input.File != nil
	hasURL := strings.TrimSpace(input.URL) != ""
	if hasFile == hasURL {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "exactly one of file and url is required", nil)
	}

	projects := make([]store.Project, 0, len(input.ProjectIDs))
	for _, projectID := range input.ProjectIDs {
		project, err := s.store.GetProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}

	doc := store.Document{
		ID:           util.NewID("doc"),
		Name:         name,
		DocumentType: input.DocumentType,
	}

	if hasFile {
		if s.blob == nil {
			return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Document storage is not configured", nil)
		}
		ext := strings.TrimPrefix(filepath.Ext(input.FileName), ".")
		if ext == "" {
			ext = "bin"
		}
		key := fmt.Sprintf("shared/%s/%d.%s", input.DocumentType, time.Now().UnixNano(), ext)
		if err := s.blob.Upload(ctx, key, input.File, input.FileSize, input.FileType); err != nil {
			return nil, err
		}
		doc.OriginalFileName = input.FileName
		doc.FilePath = key
		doc.FileType = input.FileType
		doc.FileSize = input.FileSize
	} else {
		doc.IsURL = true
		doc.URL = strings.TrimSpace(input.URL)
		doc.URLExcerpt = strings.TrimSpace(input.URLExcerpt)
		doc.URLPublicationDate = strings.TrimSpace(input.URLPublicationDate)
		doc.URLSource = strings.TrimSpace(input.URLSource)
	}

	if err := s.store.PublishDocument(ctx, doc, input.ProjectIDs); err != nil {
		if doc.FilePath != "" && s.blob != nil {
			if removeErr := s.blob.Remove(ctx, doc.FilePath); removeErr != nil {
				log.Printf("publish: compensate remove %s: %v", doc.FilePath, removeErr)
			}
		}
		return nil, err
	}

	s.indexDocument(doc, projects)

	if input.Notify {
		s.notifyCompanies(ctx, doc, projects)
	}

	doc.CreatedAt = time.Now()
	item := documentItem(doc)
	item["projectIds"] = input.ProjectIDs
	return item, nil
}

func (s *Service) indexDocument(doc store.Document, projects []store.Project) {
	if s.search == nil {
		return
	}
	record := search.DocumentRecord{
		ID:           doc.ID,
		Name:         doc.Name,
		DocumentType: doc.DocumentType,
		IsURL:        doc.IsURL,
		Excerpt:      doc.URLExcerpt,
		Source:       doc.URLSource,
	}
	seen := make(map[string]struct{})
	for _, project := range projects {
		if _, ok := seen[project.CompanyID]; ok {
			continue
		}
		seen[project.CompanyID] = struct{}{}
		record.CompanyIDs = append(record.CompanyIDs, project.CompanyID)
		if record.CompanyName == "" {
			record.CompanyName = project.CompanyName
		}
	}
	s.search.IndexDocument(record)
}

// notifyCompanies emails each distinct owning company once, BCCing every
// admin. Failures are logged and swallowed: the publish already happened.
func (s *Service) notifyCompanies(ctx context.Context, doc store.Document, projects []store.Project) {
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}

	adminEmails := make([]string, 0)
	if admins, err := s.store.ListAdminUsers(ctx); err != nil {
		log.Printf("notify: list admins: %v", err)
	} else {
		for _, admin := range admins {
			adminEmails = append(adminEmails, admin.Email)
		}
	}

	companies, err := s.store.ListCompaniesForProjects(ctx, projectIDs(projects))
	if err != nil {
		log.Printf("notify: resolve companies: %v", err)
		return
	}

	projectNameByCompany := make(map[string]string)
	for _, project := range projects {
		if _, ok := projectNameByCompany[project.CompanyID]; !ok {
			projectNameByCompany[project.CompanyID] = project.Name
		}
	}

	for _, company := range companies {
		err := s.mail.SendUpdateNotification(ctx, company.Email, adminEmails, email.NotificationData{
			CompanyName:  company.Name,
			DocumentName: doc.Name,
			DocumentType: doc.DocumentType,
			ProjectName:  projectNameByCompany[company.ID],
			PortalURL:    s.cfg.PortalURL,
		})
		if err != nil {
			log.Printf("notify: company %s: %v", company.ID, err)
		}
	}
}

func (s *Service) DeleteSingleDocument(ctx context.Context, documentID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if !doc.IsURL && doc.FilePath != "" && s.blob != nil {
		if err := s.blob.Remove(ctx, doc.FilePath); err != nil {
			log.Printf("delete document: remove object %s: %v", doc.FilePath, err)
		}
	}
	if s.search != nil {
		s.search.DeleteDocument(documentID)
	}
	return nil
}

func (s *Service) SearchDocuments(ctx context.Context, text, docType, companyID string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:          text,
		FilterDocType: docType,
		FilterCompany: companyID,
		Limit:         limit,
		Offset:        offset,
	}), nil
}

// ---------------------------------------------------------------------------
// Privileged operations

func (s *Service) ListAdmins(ctx context.Context) ([]map[string]any, error) {
	admins, err := s.store.ListAdminUsers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(admins))
	for _, admin := range admins {
		items = append(items, map[string]any{
			"id":        admin.ID,
			"email":     admin.Email,
			"createdAt": admin.CreatedAt.Format(time.RFC3339),
		})
	}
	return items, nil
}

func (s *Service) CreateUser(ctx context.Context, req accounts.CreateUserRequest) (map[string]any, error) {
	user, err := s.accounts.CreateUser(ctx, req)
	if err != nil {
		return nil, err
	}
	return userItem(user), nil
}

func (s *Service) DeleteUser(ctx context.Context, session Session, emailAddr, userID string) error {
	return s.accounts.DeleteUser(ctx, session.UserID, emailAddr, userID)
}

func (s *Service) UpdatePassword(ctx context.Context, emailAddr, password string) error {
	return s.accounts.UpdatePassword(ctx, emailAddr, password)
}

func (s *Service) ResetPassword(ctx context.Context, emailAddr, password string) (map[string]any, error) {
	created, err := s.accounts.ResetPassword(ctx, emailAddr, password)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "created": created}, nil
}

func (s *Service) AssignRole(ctx context.Context, userID, role string) error {
	return s.accounts.AssignRole(ctx, userID, role)
}

// BootstrapAdmin is gated on the shared server secret instead of a
// session: it exists to create the very first admin.
func (s *Service) BootstrapAdmin(ctx context.Context, secret string, req accounts.CreateUserRequest) (map[string]any, error) {
	if s.cfg.BootstrapSecret == "" {
		return nil, domainError(http.StatusServiceUnavailable, "BOOTSTRAP_DISABLED", "Bootstrap is not configured", nil)
	}
	if secret != s.cfg.BootstrapSecret {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	user, err := s.accounts.BootstrapAdmin(ctx, req)
	if err != nil {
		return nil, err
	}
	return userItem(user), nil
}

// CurrentUser returns the caller's identity, or any identity when an
// admin passes a target user id.
func (s *Service) CurrentUser(ctx context.Context, session Session, userID string) (map[string]any, error) {
	target := session.UserID
	if userID != "" && userID != session.UserID {
		if rbac.Normalize(session.Role) != rbac.RoleAdmin {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
		target = userID
	}
	user, err := s.accounts.GetUser(ctx, target)
	if err != nil {
		return nil, err
	}
	return userItem(user), nil
}

// CompleteSetup makes sure every company has a portal identity.
func (s *Service) CompleteSetup(ctx context.Context) (map[string]any, error) {
	created, err := s.accounts.EnsureCompanyUsers(ctx, s.cfg.DefaultClientPassword)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "createdUsers": created}, nil
}

func (s *Service) SendSupportEmail(ctx context.Context, session Session, subject, message string) error {
	subject = strings.TrimSpace(subject)
	message = strings.TrimSpace(message)
	if subject == "" || message == "" {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "subject and message are required", nil)
	}
	if s.mail == nil {
		return email.ErrMissingAPIKey
	}

	userName := session.Email
	if user, err := s.store.GetUserByID(ctx, session.UserID); err == nil {
		if full := strings.TrimSpace(user.FirstName + " " + user.LastName); full != "" {
			userName = full
		}
	}

	return s.mail.SendSupportEmail(ctx, email.SupportRequest{
		UserEmail: session.Email,
		UserName:  userName,
		Subject:   subject,
		Message:   message,
	})
}

// ---------------------------------------------------------------------------
// Helpers

func projectIDs(projects []store.Project) []string {
	ids := make([]string, 0, len(projects))
	for _, project := range projects {
		ids = append(ids, project.ID)
	}
	return ids
}

func projectItem(project store.Project) map[string]any {
	return map[string]any{
		"id":          project.ID,
		"name":        project.Name,
		"description": project.Description,
		"companyId":   project.CompanyID,
		"companyName": project.CompanyName,
		"isDefault":   project.IsDefault,
		"createdAt":   project.CreatedAt.Format(time.RFC3339),
	}
}

func documentItem(doc store.Document) map[string]any {
	item := map[string]any{
		"id":           doc.ID,
		"name":         doc.Name,
		"documentType": doc.DocumentType,
		"isUrl":        doc.IsURL,
		"createdAt":    doc.CreatedAt.Format(time.RFC3339),
	}
	if doc.ProjectID != "" {
		item["projectId"] = doc.ProjectID
	}
	if doc.IsURL {
		item["url"] = doc.URL
		item["urlExcerpt"] = doc.URLExcerpt
		item["urlPublicationDate"] = doc.URLPublicationDate
		item["urlSource"] = doc.URLSource
	} else {
		item["originalFileName"] = doc.OriginalFileName
		item["fileType"] = doc.FileType
		item["fileSize"] = doc.FileSize
	}
	return item
}

func userItem(user store.User) map[string]any {
	return map[string]any{
		"id":        user.ID,
		"email":     user.Email,
		"firstName": user.FirstName,
		"lastName":  user.LastName,
		"role":      user.Role,
	}
}
