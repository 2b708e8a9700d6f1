package handlers

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"alfredoptarigan/cv-screening/internal/models"
	"alfredoptarigan/cv-screening/internal/services"
)

type fakeDocumentRepo struct {
	created   []*models.Document
	createErr error
}

func (f *fakeDocumentRepo) Create(ctx context.Context, doc *models.Document) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, doc)
	return nil
}

func (f *fakeDocumentRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	return nil, errors.New("not used")
}

func (f *fakeDocumentRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Document, error) {
	return nil, errors.New("not used")
}

func uploadRequest(t *testing.T, files map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for field, name := range files {
		part, err := w.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		part.Write([]byte("candidate document body"))
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func newUploadApp(t *testing.T, repo *fakeDocumentRepo, maxSize int64) (*fiber.App, string) {
	t.Helper()
	root := t.TempDir()
	storage := services.NewStorageService(root)
	if err := storage.EnsureUploadDir(); err != nil {
		t.Fatalf("EnsureUploadDir: %v", err)
	}
	app := fiber.New()
	app.Post("/api/v1/upload", NewUploadHandler(repo, storage, maxSize, zap.NewNop()).HandleUpload)
	return app, root
}

func TestHandleUploadStoresBothDocuments(t *testing.T) {
	repo := &fakeDocumentRepo{}
	app, _ := newUploadApp(t, repo, 1<<20)

	code, body := doRequest(t, app, uploadRequest(t, map[string]string{"cv": "cv.pdf", "project_report": "report.docx"}))
	if code != fiber.StatusCreated {
		t.Fatalf("status code = %d, body %v", code, body)
	}
	if docs, ok := body["documents"].([]any); !ok || len(docs) != 2 {
		t.Fatalf("unexpected documents %v", body["documents"])
	}
	if len(repo.created) != 2 || repo.created[0].FileType != models.DocumentTypeCV || repo.created[1].FileType != models.DocumentTypeProjectReport {
		t.Fatalf("unexpected records %+v", repo.created)
	}
	for _, doc := range repo.created {
		if _, err := os.Stat(doc.FilePath); err != nil {
			t.Fatalf("stored file missing: %v", err)
		}
	}
}

func TestHandleUploadRejections(t *testing.T) {
	cases := []struct {
		name    string
		files   map[string]string
		maxSize int64
	}{
		{"no files", map[string]string{"other": "x.pdf"}, 1 << 20},
		{"unsupported extension", map[string]string{"cv": "cv.exe"}, 1 << 20},
		{"too large", map[string]string{"cv": "cv.pdf"}, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeDocumentRepo{}
			app, _ := newUploadApp(t, repo, tc.maxSize)
			code, body := doRequest(t, app, uploadRequest(t, tc.files))
			if code != fiber.StatusBadRequest {
				t.Fatalf("status code = %d, body %v", code, body)
			}
			if len(repo.created) != 0 {
				t.Fatal("rejected upload was recorded")
			}
		})
	}
}

func TestHandleUploadRemovesFileWhenRecordFails(t *testing.T) {
	app, root := newUploadApp(t, &fakeDocumentRepo{createErr: errors.New("db down")}, 1<<20)

	code, _ := doRequest(t, app, uploadRequest(t, map[string]string{"cv": "cv.pdf"}))
	if code != fiber.StatusInternalServerError {
		t.Fatalf("status code = %d", code)
	}
	entries, err := os.ReadDir(root + "/cv")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("orphaned upload left behind: %v", entries)
	}
}
