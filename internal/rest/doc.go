// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-authgate.
//
// go-authgate is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package rest implements the HTTP API for the authentication service.
//
// The API exposes WebAuthn ceremonies, TOTP/backup-code management, and
// the verification endpoints under /api/v1. User identity comes from the
// X-User-Id header; the CRUD/session layer in front of this service is
// the identity collaborator. Failed authentication attempts return a
// uniform verification_failed body so callers cannot probe which check
// rejected them; lockout is the only distinguished failure.
package rest
