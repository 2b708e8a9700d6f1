package handlers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"alfredoptarigan/cv-screening/internal/models"
	"alfredoptarigan/cv-screening/internal/repositories"
	"alfredoptarigan/cv-screening/internal/services"
)

// uploadFields maps multipart field names to the document type they carry.
var uploadFields = []struct {
	field    string
	label    string
	fileType models.DocumentType
}{
	{field: "cv", label: "CV", fileType: models.DocumentTypeCV},
	{field: "project_report", label: "Project report", fileType: models.DocumentTypeProjectReport},
}

type UploadHandler struct {
	docRepo        repositories.DocumentRepository
	storageService services.StorageService
	maxFileSize    int64
	logger         *zap.Logger
}

func NewUploadHandler(
	docRepo repositories.DocumentRepository,
	storageService services.StorageService,
	maxFileSize int64,
	logger *zap.Logger,
) *UploadHandler {
	return &UploadHandler{
		docRepo:        docRepo,
		storageService: storageService,
		maxFileSize:    maxFileSize,
		logger:         logger,
	}
}

// HandleUpload handles POST /upload with 'cv' and/or 'project_report' files.
func (h *UploadHandler) HandleUpload(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "failed to parse multipart form",
		})
	}

	var responses []models.UploadResponse

	for _, upload := range uploadFields {
		files, exists := form.File[upload.field]
		if !exists || len(files) == 0 {
			continue
		}
		file := files[0]

		if file.Size > h.maxFileSize {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("%s file too large. Max size: %d bytes", upload.label, h.maxFileSize),
			})
		}

		doc, status, err := h.saveDocument(c, file, upload.fileType)
		if err != nil {
			return c.Status(status).JSON(fiber.Map{
				"error": fmt.Sprintf("failed to save %s: %v", upload.label, err),
			})
		}

		responses = append(responses, models.UploadResponse{
			ID:           doc.ID.String(),
			Filename:     doc.Filename,
			OriginalName: doc.OriginalFileName,
			FileType:     string(doc.FileType),
			SizeBytes:    doc.SizeBytes,
		})
	}

	if len(responses) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No valid files uploaded. Please upload 'cv' and/or 'project_report' as PDF, DOCX or TXT files.",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":   "Files uploaded successfully",
		"documents": responses,
	})
}

func (h *UploadHandler) saveDocument(c *fiber.Ctx, file *multipart.FileHeader, fileType models.DocumentType) (*models.Document, int, error) {
	filename, filePath, err := h.storageService.SaveFile(file, fileType)
	if errors.Is(err, services.ErrUnsupportedFileType) || errors.Is(err, services.ErrEmptyUpload) {
		return nil, fiber.StatusBadRequest, err
	}
	if err != nil {
		h.logger.Error("failed to store upload", zap.String("file_type", string(fileType)), zap.Error(err))
		return nil, fiber.StatusInternalServerError, err
	}

	doc := &models.Document{
		ID:               uuid.New(),
		Filename:         filename,
		OriginalFileName: file.Filename,
		FileType:         fileType,
		FilePath:         filePath,
		SizeBytes:        file.Size,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	if err := h.docRepo.Create(c.UserContext(), doc); err != nil {
		// Cleanup uploaded file if database insert fails
		if cleanupErr := h.storageService.DeleteFile(filename); cleanupErr != nil {
			h.logger.Warn("failed to remove orphaned upload", zap.String("file", filename), zap.Error(cleanupErr))
		}
		h.logger.Error("failed to save document record", zap.Error(err))
		return nil, fiber.StatusInternalServerError, errors.New("document record could not be saved")
	}

	return doc, fiber.StatusCreated, nil
}
