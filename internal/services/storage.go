package services

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"alfredoptarigan/cv-screening/internal/models"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrEmptyUpload         = errors.New("uploaded file is empty")
)

var uploadExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".txt":  true,
}

// StorageService keeps uploaded candidate documents on local disk, one
// subdirectory per document type.
type StorageService interface {
	SaveFile(file *multipart.FileHeader, fileType models.DocumentType) (string, string, error)
	GetFilePath(filename string) string
	DeleteFile(filename string) error
	EnsureUploadDir() error
}

type storageService struct {
	uploadPath string
}

func NewStorageService(uploadPath string) StorageService {
	return &storageService{uploadPath: uploadPath}
}

// EnsureUploadDir creates the upload root and a directory for every candidate document type.
func (s *storageService) EnsureUploadDir() error {
	for _, fileType := range []models.DocumentType{models.DocumentTypeCV, models.DocumentTypeProjectReport} {
		if err := os.MkdirAll(filepath.Join(s.uploadPath, string(fileType)), 0o755); err != nil {
			return fmt.Errorf("failed to create upload directory: %w", err)
		}
	}
	return nil
}

// SaveFile stores an upload and returns its name relative to the upload root
// (e.g. "cv/<uuid>.pdf") along with the absolute location on disk.
func (s *storageService) SaveFile(file *multipart.FileHeader, fileType models.DocumentType) (string, string, error) {
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !uploadExtensions[ext] {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedFileType, ext)
	}
	if file.Size == 0 {
		return "", "", ErrEmptyUpload
	}

	name := filepath.Join(string(fileType), uuid.NewString()+ext)
	filePath := s.GetFilePath(name)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	src, err := file.Open()
	if err != nil {
		return "", "", fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(filePath)
	if err != nil {
		return "", "", fmt.Errorf("failed to create destination file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(filePath)
		return "", "", fmt.Errorf("failed to save file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(filePath)
		return "", "", fmt.Errorf("failed to save file: %w", err)
	}

	return name, filePath, nil
}

func (s *storageService) GetFilePath(filename string) string {
	return filepath.Join(s.uploadPath, filepath.Clean(filename))
}

func (s *storageService) DeleteFile(filename string) error {
	if err := os.Remove(s.GetFilePath(filename)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
