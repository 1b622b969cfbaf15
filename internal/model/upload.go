package model

import "time"

type FileStatus string

const (
	FileUploading  FileStatus = "uploading"
	FileUploaded   FileStatus = "uploaded"
	FileProcessing FileStatus = "processing"
	FileApproved   FileStatus = "approved"
	FileRejected   FileStatus = "rejected"
)

// Terminal reports whether the transfer for a file in this status has finished.
func (s FileStatus) Terminal() bool {
	return s != FileUploading
}

// Delivered reports whether the bytes reached the store (uploaded or any later review state).
func (s FileStatus) Delivered() bool {
	switch s {
	case FileUploaded, FileProcessing, FileApproved:
		return true
	}
	return false
}

// FileDescriptor is what a caller selects before the file gets an identity.
type FileDescriptor struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

type UploadedFile struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Size       int64      `json:"size"`
	Type       string     `json:"type"`
	UploadedAt time.Time  `json:"uploaded_at"`
	Status     FileStatus `json:"status"`
	Progress   int        `json:"progress"` // 0-100, meaningful while uploading
	Version    int        `json:"version"`
	Comment    string     `json:"comment,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func (f UploadedFile) Descriptor() FileDescriptor {
	return FileDescriptor{Name: f.Name, Size: f.Size, Type: f.Type}
}

func CloneFiles(files []UploadedFile) []UploadedFile {
	if files == nil {
		return nil
	}
	out := make([]UploadedFile, len(files))
	copy(out, files)
	return out
}
