// Package api contains the HTTP request and response contracts of the
// intake API. Version v1 is the current stable API version.
package api

import (
	"bfintake/pkg/contracts/domain"
)

// ParseRequest is the body of POST /api/parse. No files means every
// uploaded file.
type ParseRequest struct {
	Files []string `json:"files,omitempty" validate:"omitempty,max=1000,dive,filename"`
}

// ExportRequest is the body of POST /api/export. No files means every parsed
// file. The format is passed through so an unknown encoding fails per file.
type ExportRequest struct {
	Files           []string `json:"files,omitempty" validate:"omitempty,max=1000,dive,filename"`
	Format          string   `json:"format" validate:"required,max=32"`
	IncludeMetadata bool     `json:"include_metadata"`
}

// Batch responses of upload, parse and export.
type (
	UploadResponse = domain.BatchResult[domain.UploadResult]
	ParseResponse  = domain.BatchResult[domain.ParseResult]
	ExportResponse = domain.BatchResult[domain.ExportResult]
)

// ClearResponse reports a stage clear.
type ClearResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	domain.ClearResult
}
