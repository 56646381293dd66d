package app

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"portal/api/internal/store"
)

func postMultipart(t *testing.T, url, token string, fields map[string]string, fileName, fileContent string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field %s: %v", key, err)
		}
	}
	if fileName != "" {
		part, err := writer.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := io.WriteString(part, fileContent); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func publishEnv(t *testing.T) (*testEnv, *httptest.Server, string) {
	t.Helper()
	env := newTestEnv()
	seedUser(t, env.store, "usr_admin", "admin@example.com", "secret-pass", "admin")
	seedCompany(env.store, "com_acme", "Acme", "acme@example.com")
	seedCompany(env.store, "com_beta", "Beta", "beta@example.com")
	seedProject(env.store, "prj_a1", "Fase 1", "com_acme")
	seedProject(env.store, "prj_a2", "Fase 2", "com_acme")
	seedProject(env.store, "prj_b1", "Obra", "com_beta")
	server := newTestServer(t, env)
	token, _ := signIn(t, server, "admin@example.com", "secret-pass")
	return env, server, token
}

func TestPublishValidation(t *testing.T) {
	env, server, token := publishEnv(t)

	cases := map[string]map[string]any{
		"no projects": {
			"name": "Manual", "documentType": "manual", "projectIds": []string{},
			"url": "https://example.com/doc",
		},
		"missing name": {
			"documentType": "manual", "projectIds": []string{"prj_a1"},
			"url": "https://example.com/doc",
		},
		"bad document type": {
			"name": "Manual", "documentType": "carpeta", "projectIds": []string{"prj_a1"},
			"url": "https://example.com/doc",
		},
		"neither file nor url": {
			"name": "Manual", "documentType": "manual", "projectIds": []string{"prj_a1"},
		},
	}
	for name, body := range cases {
		resp := postJSON(t, server.URL+"/api/documents", token, body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, resp.StatusCode)
		}
		payload := decodeResponse(t, resp)
		if payload["code"] != "VALIDATION_ERROR" {
			t.Errorf("%s: code = %v", name, payload["code"])
		}
	}

	// Both arms at once is also invalid: a multipart publish carrying a url.
	resp := postMultipart(t, server.URL+"/api/documents", token, map[string]string{
		"name": "Manual", "documentType": "manual", "projectIds": "prj_a1",
	}, "", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty multipart: status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	if len(env.store.documents) != 0 || len(env.store.links) != 0 {
		t.Error("validation failures must not leave rows behind")
	}
	if len(env.blob.objects) != 0 {
		t.Error("validation failures must not leave objects behind")
	}
	if len(env.mail.notifications) != 0 {
		t.Error("validation failures must not send mail")
	}
}

func TestPublishUnknownProjectRejected(t *testing.T) {
	env, server, token := publishEnv(t)

	resp := postJSON(t, server.URL+"/api/documents", token, map[string]any{
		"name": "Manual", "documentType": "manual",
		"projectIds": []string{"prj_a1", "prj_missing"},
		"url":        "https://example.com/doc",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
	if len(env.store.documents) != 0 {
		t.Error("no document may be created when a target project is unknown")
	}
}

func TestPublishFileArm(t *testing.T) {
	env, server, token := publishEnv(t)

	resp := postMultipart(t, server.URL+"/api/documents", token, map[string]string{
		"name":         "Plano general",
		"documentType": "plano",
		"projectIds":   "prj_a1,prj_a2,prj_b1",
		"notify":       "true",
	}, "plano-v2.dwg", "dwg-bytes")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	payload := decodeResponse(t, resp)
	docID, _ := payload["id"].(string)
	if docID == "" {
		t.Fatal("no document id returned")
	}

	doc := env.store.documents[docID]
	if doc.OriginalFileName != "plano-v2.dwg" {
		t.Errorf("originalFileName = %q", doc.OriginalFileName)
	}
	if !strings.HasPrefix(doc.FilePath, "shared/plano/") || !strings.HasSuffix(doc.FilePath, ".dwg") {
		t.Errorf("filePath = %q, want shared/plano/<ts>.dwg", doc.FilePath)
	}
	if string(env.blob.objects[doc.FilePath]) != "dwg-bytes" {
		t.Error("uploaded object missing or wrong")
	}
	if len(env.store.links) != 3 {
		t.Errorf("junction rows = %d, want 3", len(env.store.links))
	}

	// One notification per owning company, admins BCC'd.
	if len(env.mail.notifications) != 2 {
		t.Fatalf("notifications = %d, want 2 (one per company)", len(env.mail.notifications))
	}
	recipients := map[string]bool{}
	for _, sent := range env.mail.notifications {
		recipients[sent.To] = true
		if len(sent.BCC) != 1 || sent.BCC[0] != "admin@example.com" {
			t.Errorf("BCC = %v, want the admin list", sent.BCC)
		}
		if sent.Data.DocumentName != "Plano general" {
			t.Errorf("document name = %q", sent.Data.DocumentName)
		}
	}
	if !recipients["acme@example.com"] || !recipients["beta@example.com"] {
		t.Errorf("recipients = %v", recipients)
	}

	// And the search index saw it once, with both companies attached.
	if len(env.searcher.indexed) != 1 {
		t.Fatalf("indexed = %d, want 1", len(env.searcher.indexed))
	}
	if got := env.searcher.indexed[0].CompanyIDs; len(got) != 2 {
		t.Errorf("indexed companyIds = %v, want 2 distinct companies", got)
	}
}

func TestPublishLinkArmSkipsStorageAndMail(t *testing.T) {
	env, server, token := publishEnv(t)

	resp := postJSON(t, server.URL+"/api/documents", token, map[string]any{
		"name":         "Boletin oficial",
		"documentType": "normativa",
		"projectIds":   []string{"prj_a1"},
		"url":          "https://boe.example/2026/08",
		"urlExcerpt":   "Actualizacion de normativa",
		"urlSource":    "BOE",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	payload := decodeResponse(t, resp)
	docID, _ := payload["id"].(string)

	doc := env.store.documents[docID]
	if !doc.IsURL || doc.URL != "https://boe.example/2026/08" {
		t.Errorf("doc = %+v, want link arm", doc)
	}
	if len(env.blob.objects) != 0 {
		t.Error("link publish must not touch storage")
	}
	// notify was not requested
	if len(env.mail.notifications) != 0 {
		t.Error("unsolicited notification was sent")
	}
}

func TestPublishCompensatesUploadWhenInsertFails(t *testing.T) {
	env, server, token := publishEnv(t)
	env.store.failPublish = true

	resp := postMultipart(t, server.URL+"/api/documents", token, map[string]string{
		"name":         "Manual",
		"documentType": "manual",
		"projectIds":   "prj_a1",
	}, "manual.pdf", "pdf-bytes")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	resp.Body.Close()

	if len(env.blob.objects) != 0 {
		t.Error("uploaded object was not removed after the failed insert")
	}
	if len(env.store.documents) != 0 || len(env.store.links) != 0 {
		t.Error("rows exist despite the failed insert")
	}
	if len(env.mail.notifications) != 0 {
		t.Error("notification sent for a failed publish")
	}
}

func TestDeleteSingleDocument(t *testing.T) {
	env, server, token := publishEnv(t)
	seedFileDocument(env.store, "doc_1", "Manual", "shared/manual/1.pdf", "prj_a1", "prj_a2")
	env.blob.objects["shared/manual/1.pdf"] = []byte("pdf")

	resp := doRequest(t, http.MethodDelete, server.URL+"/api/documents/doc_1", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	if _, ok := env.store.documents["doc_1"]; ok {
		t.Error("document row survived")
	}
	if len(env.store.links) != 0 {
		t.Error("junction rows survived")
	}
	if _, ok := env.blob.objects["shared/manual/1.pdf"]; ok {
		t.Error("stored object survived")
	}
	if len(env.searcher.deleted) != 1 || env.searcher.deleted[0] != "doc_1" {
		t.Errorf("search deletions = %v", env.searcher.deleted)
	}

	resp = doRequest(t, http.MethodDelete, server.URL+"/api/documents/doc_1", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("repeat delete: status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDashboard(t *testing.T) {
	env := newTestEnv()
	seedUser(t, env.store, "usr_acme", "acme@example.com", "client-pass", "client")
	seedUser(t, env.store, "usr_lost", "lost@example.com", "client-pass", "client")
	seedCompany(env.store, "com_acme", "Acme", "acme@example.com")
	seedProject(env.store, "prj_a1", "Fase 1", "com_acme")
	seedProject(env.store, "prj_a2", "Fase 2", "com_acme")

	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	env.store.documents["doc_old"] = store.Document{ID: "doc_old", Name: "Antiguo", DocumentType: "manual", FilePath: "shared/manual/1.pdf", CreatedAt: older}
	env.store.documents["doc_new"] = store.Document{ID: "doc_new", Name: "Nuevo", DocumentType: "plano", FilePath: "shared/plano/2.pdf", CreatedAt: newer}
	// doc_new is published to both of the company's projects: the
	// dashboard must show it once.
	env.store.links = []store.DocumentProject{
		{DocumentID: "doc_old", ProjectID: "prj_a1"},
		{DocumentID: "doc_new", ProjectID: "prj_a1"},
		{DocumentID: "doc_new", ProjectID: "prj_a2"},
	}

	server := newTestServer(t, env)

	t.Run("documents deduplicated and sorted", func(t *testing.T) {
		token, _ := signIn(t, server, "acme@example.com", "client-pass")
		resp := doRequest(t, http.MethodGet, server.URL+"/api/dashboard", token, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		payload := decodeResponse(t, resp)

		documents, _ := payload["documents"].([]any)
		if len(documents) != 2 {
			t.Fatalf("documents = %d, want 2 (deduplicated)", len(documents))
		}
		first, _ := documents[0].(map[string]any)
		if first["id"] != "doc_new" {
			t.Errorf("first document = %v, want the newest", first["id"])
		}
		if first["projectId"] != "prj_a1" {
			t.Errorf("representative projectId = %v, want prj_a1", first["projectId"])
		}
		if payload["lastUpdate"] != newer.Format(time.RFC3339) {
			t.Errorf("lastUpdate = %v", payload["lastUpdate"])
		}
		company, _ := payload["company"].(map[string]any)
		if company["name"] != "Acme" {
			t.Errorf("company = %v", company)
		}
	})

	t.Run("no company linked", func(t *testing.T) {
		token, _ := signIn(t, server, "lost@example.com", "client-pass")
		resp := doRequest(t, http.MethodGet, server.URL+"/api/dashboard", token, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", resp.StatusCode)
		}
		payload := decodeResponse(t, resp)
		if payload["code"] != "NO_COMPANY" {
			t.Errorf("code = %v, want NO_COMPANY", payload["code"])
		}
	})
}

func TestDocumentDownload(t *testing.T) {
	env := newTestEnv()
	seedUser(t, env.store, "usr_acme", "acme@example.com", "client-pass", "client")
	seedUser(t, env.store, "usr_beta", "beta@example.com", "client-pass", "client")
	seedUser(t, env.store, "usr_admin", "admin@example.com", "secret-pass", "admin")
	seedCompany(env.store, "com_acme", "Acme", "acme@example.com")
	seedCompany(env.store, "com_beta", "Beta", "beta@example.com")
	seedProject(env.store, "prj_a1", "Fase 1", "com_acme")
	seedProject(env.store, "prj_b1", "Obra", "com_beta")
	env.store.documents["doc_file"] = store.Document{
		ID: "doc_file", Name: "Manual", OriginalFileName: "manual-v3.pdf",
		DocumentType: "manual", FilePath: "shared/manual/1.pdf", FileType: "application/pdf",
	}
	env.store.documents["doc_link"] = store.Document{
		ID: "doc_link", Name: "Boletin", DocumentType: "normativa",
		IsURL: true, URL: "https://boe.example/1",
	}
	env.store.links = []store.DocumentProject{
		{DocumentID: "doc_file", ProjectID: "prj_a1"},
		{DocumentID: "doc_link", ProjectID: "prj_a1"},
	}
	env.blob.objects["shared/manual/1.pdf"] = []byte("pdf-bytes")

	server := newTestServer(t, env)
	acmeTok, _ := signIn(t, server, "acme@example.com", "client-pass")
	betaTok, _ := signIn(t, server, "beta@example.com", "client-pass")
	adminTok, _ := signIn(t, server, "admin@example.com", "secret-pass")

	t.Run("file documents stream as attachments", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, server.URL+"/api/documents/doc_file/download", acmeTok, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		defer resp.Body.Close()
		if got := resp.Header.Get("Content-Disposition"); !strings.Contains(got, "manual-v3.pdf") {
			t.Errorf("Content-Disposition = %q, want the original file name", got)
		}
		if got := resp.Header.Get("Content-Type"); got != "application/pdf" {
			t.Errorf("Content-Type = %q", got)
		}
		body, _ := io.ReadAll(resp.Body)
		if string(body) != "pdf-bytes" {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("link documents return the url", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, server.URL+"/api/documents/doc_link/download", acmeTok, nil)
		payload := decodeResponse(t, resp)
		if payload["url"] != "https://boe.example/1" {
			t.Errorf("url = %v", payload["url"])
		}
	})

	t.Run("another company's client cannot reach it", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, server.URL+"/api/documents/doc_file/download", betaTok, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("admins bypass company scoping", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, server.URL+"/api/documents/doc_file/download", adminTok, nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
		resp.Body.Close()
	})
}

func TestSupportEmail(t *testing.T) {
	env := newTestEnv()
	seedUser(t, env.store, "usr_acme", "acme@example.com", "client-pass", "client")
	env.store.users["usr_acme"] = store.User{
		ID: "usr_acme", Email: "acme@example.com",
		PasswordHash: env.store.users["usr_acme"].PasswordHash,
		FirstName:    "Ana", LastName: "Gomez",
	}
	server := newTestServer(t, env)
	token, _ := signIn(t, server, "acme@example.com", "client-pass")

	resp := postJSON(t, server.URL+"/api/support/email", token, map[string]string{
		"subject": "Acceso",
		"message": "No puedo ver los planos",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
	if len(env.mail.support) != 1 {
		t.Fatalf("support requests = %d, want 1", len(env.mail.support))
	}
	if env.mail.support[0].UserName != "Ana Gomez" {
		t.Errorf("userName = %q", env.mail.support[0].UserName)
	}

	resp = postJSON(t, server.URL+"/api/support/email", token, map[string]string{"subject": "", "message": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty form: status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}
