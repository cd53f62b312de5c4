// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package journal

import "errors"

var (
	ErrPathRequired       = errors.New("journal path is required")
	ErrOpenDB             = errors.New("open journal database")
	ErrConfigureDB        = errors.New("configure journal database")
	ErrCreateMigrationTbl = errors.New("create schema_migrations table")
	ErrReadMigrations     = errors.New("read applied migrations")
	ErrApplyMigration     = errors.New("apply journal migration")
	ErrInsert             = errors.New("insert journal entry")
	ErrQuery              = errors.New("query journal")
)
