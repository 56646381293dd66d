package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"portal/api/internal/accounts"
	"portal/api/internal/config"
	"portal/api/internal/email"
	"portal/api/internal/search"
	"portal/api/internal/store"
)

// fakeStore is an in-memory stand-in for the Postgres store. It keeps the
// same junction semantics, including orphan-document removal on cascades.
type fakeStore struct {
	mu sync.Mutex

	users     map[string]store.User
	roles     map[string]map[string]struct{}
	companies map[string]store.Company
	projects  map[string]store.Project
	documents map[string]store.Document
	links     []store.DocumentProject

	refresh    map[string]refreshRecord
	revokedJTI map[string]bool

	failPublish     bool
	identityDeletes int
}

type refreshRecord struct {
	userID    string
	expiresAt time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      make(map[string]store.User),
		roles:      make(map[string]map[string]struct{}),
		companies:  make(map[string]store.Company),
		projects:   make(map[string]store.Project),
		documents:  make(map[string]store.Document),
		refresh:    make(map[string]refreshRecord),
		revokedJTI: make(map[string]bool),
	}
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) deriveRole(userID string) string {
	if _, ok := f.roles[userID]["admin"]; ok {
		return "admin"
	}
	return "client"
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, emailAddr string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if strings.EqualFold(user.Email, emailAddr) {
			user.Role = f.deriveRole(user.ID)
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	user.Role = f.deriveRole(id)
	return user, nil
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) DeleteUser(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, userID)
	delete(f.roles, userID)
	f.identityDeletes++
	return nil
}

func (f *fakeStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return nil
}

func (f *fakeStore) UpsertUserRole(ctx context.Context, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roles[userID] == nil {
		f.roles[userID] = make(map[string]struct{})
	}
	f.roles[userID][role] = struct{}{}
	return nil
}

func (f *fakeStore) ListAdminUsers(ctx context.Context) ([]store.AdminUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	admins := make([]store.AdminUser, 0)
	for id, roles := range f.roles {
		if _, ok := roles["admin"]; !ok {
			continue
		}
		if user, ok := f.users[id]; ok {
			admins = append(admins, store.AdminUser{ID: id, Email: user.Email, CreatedAt: user.CreatedAt})
		}
	}
	sort.Slice(admins, func(i, j int) bool { return admins[i].Email < admins[j].Email })
	return admins, nil
}

func (f *fakeStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = refreshRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	record, ok := f.refresh[tokenHash]
	f.mu.Unlock()
	if !ok || time.Now().After(record.expiresAt) {
		return store.User{}, sql.ErrNoRows
	}
	return f.GetUserByID(ctx, record.userID)
}

func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedJTI[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revokedJTI[jti], nil
}

func (f *fakeStore) ListCompanies(ctx context.Context) ([]store.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	companies := make([]store.Company, 0, len(f.companies))
	for _, company := range f.companies {
		companies = append(companies, company)
	}
	sort.Slice(companies, func(i, j int) bool { return companies[i].Name < companies[j].Name })
	return companies, nil
}

func (f *fakeStore) GetCompany(ctx context.Context, id string) (store.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	company, ok := f.companies[id]
	if !ok {
		return store.Company{}, sql.ErrNoRows
	}
	return company, nil
}

func (f *fakeStore) GetCompanyByEmail(ctx context.Context, emailAddr string) (store.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, company := range f.companies {
		if strings.EqualFold(company.Email, emailAddr) {
			return company, nil
		}
	}
	return store.Company{}, sql.ErrNoRows
}

func (f *fakeStore) InsertCompany(ctx context.Context, company store.Company) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.companies[company.ID] = company
	return nil
}

func (f *fakeStore) UpdateCompany(ctx context.Context, id, name, emailAddr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	company, ok := f.companies[id]
	if !ok {
		return sql.ErrNoRows
	}
	company.Name = name
	company.Email = emailAddr
	f.companies[id] = company
	return nil
}

func (f *fakeStore) DeleteCompanyCascade(ctx context.Context, companyID string) (store.CascadeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	company, ok := f.companies[companyID]
	if !ok {
		return store.CascadeResult{}, sql.ErrNoRows
	}
	projectIDs := make([]string, 0)
	for id, project := range f.projects {
		if project.CompanyID == companyID {
			projectIDs = append(projectIDs, id)
		}
	}
	result := f.cascadeProjects(projectIDs)
	for _, id := range projectIDs {
		delete(f.projects, id)
	}
	delete(f.companies, companyID)
	result.ProjectIDs = projectIDs
	result.CompanyEmail = company.Email
	return result, nil
}

func (f *fakeStore) DeleteProjectCascade(ctx context.Context, projectID string) (store.CascadeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[projectID]; !ok {
		return store.CascadeResult{}, sql.ErrNoRows
	}
	result := f.cascadeProjects([]string{projectID})
	delete(f.projects, projectID)
	result.ProjectIDs = []string{projectID}
	return result, nil
}

// cascadeProjects removes junction rows for the given projects and
// deletes documents that end up with no links at all. Caller holds mu.
func (f *fakeStore) cascadeProjects(projectIDs []string) store.CascadeResult {
	doomed := make(map[string]struct{}, len(projectIDs))
	for _, id := range projectIDs {
		doomed[id] = struct{}{}
	}
	candidates := make(map[string]struct{})
	kept := f.links[:0:0]
	for _, link := range f.links {
		if _, ok := doomed[link.ProjectID]; ok {
			candidates[link.DocumentID] = struct{}{}
			continue
		}
		kept = append(kept, link)
	}
	f.links = kept

	var result store.CascadeResult
	for docID := range candidates {
		remaining := false
		for _, link := range f.links {
			if link.DocumentID == docID {
				remaining = true
				break
			}
		}
		if remaining {
			continue
		}
		doc := f.documents[docID]
		result.DocumentIDs = append(result.DocumentIDs, docID)
		if !doc.IsURL && doc.FilePath != "" {
			result.FilePaths = append(result.FilePaths, doc.FilePath)
		}
		delete(f.documents, docID)
	}
	return result
}

func (f *fakeStore) ListProjects(ctx context.Context) ([]store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	projects := make([]store.Project, 0, len(f.projects))
	for _, project := range f.projects {
		if company, ok := f.companies[project.CompanyID]; ok {
			project.CompanyName = company.Name
		}
		projects = append(projects, project)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].ID < projects[j].ID })
	return projects, nil
}

func (f *fakeStore) ListProjectsByCompany(ctx context.Context, companyID string) ([]store.Project, error) {
	all, _ := f.ListProjects(ctx)
	projects := make([]store.Project, 0)
	for _, project := range all {
		if project.CompanyID == companyID {
			projects = append(projects, project)
		}
	}
	return projects, nil
}

func (f *fakeStore) GetProject(ctx context.Context, id string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[id]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	if company, ok := f.companies[project.CompanyID]; ok {
		project.CompanyName = company.Name
	}
	return project, nil
}

func (f *fakeStore) InsertProject(ctx context.Context, project store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[project.ID] = project
	return nil
}

func (f *fakeStore) UpdateProject(ctx context.Context, id, name, description, companyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[id]
	if !ok {
		return sql.ErrNoRows
	}
	project.Name = name
	project.Description = description
	project.CompanyID = companyID
	f.projects[id] = project
	return nil
}

func (f *fakeStore) ListDocuments(ctx context.Context) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	documents := make([]store.Document, 0, len(f.documents))
	for _, doc := range f.documents {
		documents = append(documents, doc)
	}
	sort.Slice(documents, func(i, j int) bool { return documents[i].ID < documents[j].ID })
	return documents, nil
}

func (f *fakeStore) GetDocument(ctx context.Context, id string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[id]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	return doc, nil
}

func (f *fakeStore) PublishDocument(ctx context.Context, doc store.Document, projectIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPublish {
		return errors.New("insert document: connection reset")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	f.documents[doc.ID] = doc
	for _, projectID := range projectIDs {
		f.links = append(f.links, store.DocumentProject{DocumentID: doc.ID, ProjectID: projectID})
	}
	return nil
}

func (f *fakeStore) DeleteDocument(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.documents[id]; !ok {
		return sql.ErrNoRows
	}
	kept := f.links[:0:0]
	for _, link := range f.links {
		if link.DocumentID != id {
			kept = append(kept, link)
		}
	}
	f.links = kept
	delete(f.documents, id)
	return nil
}

func (f *fakeStore) ListDocumentLinks(ctx context.Context, documentID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0)
	for _, link := range f.links {
		if link.DocumentID == documentID {
			ids = append(ids, link.ProjectID)
		}
	}
	return ids, nil
}

func (f *fakeStore) ListProjectDocumentLinks(ctx context.Context, projectID string) ([]store.DocumentProject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	links := make([]store.DocumentProject, 0)
	for _, link := range f.links {
		if link.ProjectID == projectID {
			links = append(links, link)
		}
	}
	return links, nil
}

func (f *fakeStore) ListCompaniesForProjects(ctx context.Context, projectIDs []string) ([]store.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]struct{})
	companies := make([]store.Company, 0)
	for _, projectID := range projectIDs {
		project, ok := f.projects[projectID]
		if !ok {
			continue
		}
		if _, dup := seen[project.CompanyID]; dup {
			continue
		}
		seen[project.CompanyID] = struct{}{}
		if company, ok := f.companies[project.CompanyID]; ok {
			companies = append(companies, company)
		}
	}
	sort.Slice(companies, func(i, j int) bool { return companies[i].ID < companies[j].ID })
	return companies, nil
}

type fakeBlob struct {
	mu         sync.Mutex
	objects    map[string][]byte
	failRemove bool
	removed    []string
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: make(map[string][]byte)}
}

func (b *fakeBlob) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *fakeBlob) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *fakeBlob) Remove(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed = append(b.removed, key)
	if b.failRemove {
		return errors.New("storage unreachable")
	}
	delete(b.objects, key)
	return nil
}

type sentNotification struct {
	To   string
	BCC  []string
	Data email.NotificationData
}

type fakeMailer struct {
	mu            sync.Mutex
	configured    bool
	notifications []sentNotification
	support       []email.SupportRequest
}

func (m *fakeMailer) IsConfigured() bool { return m.configured }

func (m *fakeMailer) SendUpdateNotification(ctx context.Context, to string, bcc []string, data email.NotificationData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, sentNotification{To: to, BCC: bcc, Data: data})
	return nil
}

func (m *fakeMailer) SendSupportEmail(ctx context.Context, req email.SupportRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.support = append(m.support, req)
	return nil
}

type fakeSearcher struct {
	mu      sync.Mutex
	indexed []search.DocumentRecord
	deleted []string
}

func (s *fakeSearcher) Search(q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (s *fakeSearcher) IndexDocument(doc search.DocumentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed = append(s.indexed, doc)
}

func (s *fakeSearcher) DeleteDocument(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
}

type testEnv struct {
	service  *Service
	store    *fakeStore
	blob     *fakeBlob
	mail     *fakeMailer
	searcher *fakeSearcher
}

func newTestEnv() *testEnv {
	fs := newFakeStore()
	fb := newFakeBlob()
	fm := &fakeMailer{configured: true}
	fq := &fakeSearcher{}
	cfg := config.Config{
		JWTSecret:             "test-secret",
		AccessTTL:             15 * time.Minute,
		RefreshTTL:            time.Hour,
		BootstrapSecret:       "setup-secret",
		PortalURL:             "http://portal.test",
		DefaultClientPassword: "Cambiar123!",
	}
	svc := &Service{
		cfg:      cfg,
		store:    fs,
		sessions: fs,
		blob:     fb,
		mail:     fm,
		search:   fq,
		accounts: accounts.NewService(fs),
	}
	return &testEnv{service: svc, store: fs, blob: fb, mail: fm, searcher: fq}
}
