// Package api provides the JSON REST API server for Quill.
//
// # Architecture
//
// The server uses Go 1.22+ method-pattern routing with a layered
// middleware stack:
//
//	Recovery → Tracing → Logging → CORS → RateLimit → Routes
//
// Health probes (/health, /ready) bypass the middleware stack via a
// top-level mux so they stay fast and unauthenticated.
//
// # Endpoints
//
// Health probes (no middleware):
//   - GET /health - returns {"status":"ok"}
//   - GET /ready  - pings the vector database pool when configured
//
// Projects:
//   - GET    /api/v1/projects                 - list projects
//   - POST   /api/v1/projects                 - create project (optional template)
//   - GET    /api/v1/projects/{project}       - project metadata
//   - DELETE /api/v1/projects/{project}       - delete project
//   - GET    /api/v1/templates                - built-in template catalog
//
// Tables and rows:
//   - GET    /api/v1/projects/{project}/tables                     - list tables
//   - POST   /api/v1/projects/{project}/tables                     - create table
//   - GET    /api/v1/projects/{project}/tables/{table}             - table schema
//   - DELETE /api/v1/projects/{project}/tables/{table}             - drop table
//   - GET    /api/v1/projects/{project}/tables/{table}/rows        - paginated rows
//   - POST   /api/v1/projects/{project}/tables/{table}/rows        - insert row
//   - GET    /api/v1/projects/{project}/tables/{table}/rows/{id}   - read row
//   - PUT    /api/v1/projects/{project}/tables/{table}/rows/{id}   - update row
//   - DELETE /api/v1/projects/{project}/tables/{table}/rows/{id}   - delete row
//   - POST   /api/v1/projects/{project}/tables/{table}/csv         - CSV upload
//
// Versions:
//   - GET    /api/v1/projects/{project}/versions          - list (filter by ?type=)
//   - GET    /api/v1/projects/{project}/versions/types    - distinct types
//   - GET    /api/v1/projects/{project}/versions/{id}     - read version
//   - PATCH  /api/v1/projects/{project}/versions/{id}     - partial update
//   - DELETE /api/v1/projects/{project}/versions/{id}     - delete version
//
// Buckets:
//   - GET    /api/v1/projects/{project}/buckets                          - list buckets
//   - POST   /api/v1/projects/{project}/buckets                          - create bucket
//   - DELETE /api/v1/projects/{project}/buckets/{bucket}                 - delete bucket
//   - GET    /api/v1/projects/{project}/buckets/{bucket}/documents       - list documents
//   - POST   /api/v1/projects/{project}/buckets/{bucket}/documents       - ingest document
//   - GET    /api/v1/projects/{project}/buckets/{bucket}/documents/{doc} - read document
//   - DELETE /api/v1/projects/{project}/buckets/{bucket}/documents/{doc} - remove document
//   - POST   /api/v1/projects/{project}/buckets/{bucket}/query           - retrieval query
//
// Generation:
//   - POST /api/v1/projects/{project}/generate          - run the generation pipeline
//   - POST /api/v1/projects/{project}/brainstorm        - row-scoped brainstorm
//   - POST /api/v1/projects/{project}/academic/chapters - chapter plan generation
//
// Export:
//   - GET /api/v1/projects/{project}/export        - whole-project JSON snapshot
//   - GET /api/v1/projects/{project}/export/bundle - ZIP bundle download
//
// # Error Handling
//
// All responses use an envelope format:
//
//	Success: {"data": <payload>}
//	Error:   {"error": {"code": "...", "message": "..."}}
//
// Service sentinel errors map to HTTP status codes in one place
// (errorStatus in response.go): not-found sentinels to 404, conflict
// sentinels to 409, validation sentinels to 400, backend and retrieval
// outages to 503.
package api
