// Package http implements the HTTP handlers of the intake service. Handlers
// stay thin: they decode and validate the request, call the pipeline or a
// service, and render the result with go-chi/render.
//
// # Routes
//
// IntakeHandler.Routes is mounted under /api:
//
//	POST   /upload                    multipart "files", one result per part
//	POST   /parse                     {"files": [...]}; empty means all uploaded
//	POST   /export                    {"files": [...], "format": "csv", "include_metadata": false}
//	GET    /uploaded-files            newest first
//	GET    /parsed-files
//	GET    /exported-files
//	GET    /files?stage=parsed
//	GET    /files/{stage}/{filename}  download with ETag and Content-Disposition
//	DELETE /files/{stage}/{filename}
//	GET    /export-file/{filename}
//	POST   /cache/clear-{stage}
//	DELETE /cache/{stage}
//	GET    /system-status
//
// HealthHandler serves /health, /api/health, /api/health/ready,
// /api/health/live, /api/health/stats and /api/version.
//
// # Errors
//
// Every failure goes through apierrors.ErrorHandler and is rendered as an
// RFC 7807 problem document:
//
//	{
//	    "type": "/errors/not-found",
//	    "title": "Resource Not Found",
//	    "status": 404,
//	    "detail": "parsed file a.ndjson.bz2 not found",
//	    "instance": "/api/files/parsed/a.ndjson.bz2",
//	    "trace_id": "..."
//	}
//
// Batch endpoints never answer with an error for a partial failure; the body
// carries total, successful, failed and one result per file.
package http
