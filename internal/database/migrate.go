/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"embed"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	// lib/pq backs the plain database/sql connection goose migrates over;
	// the pgx pool in postgres.go is reserved for the engine's own transactional
	// traffic, kept separate so a migration run never competes with live
	// pooled connections for the same driver's internal state.
	_ "github.com/lib/pq"

	engineerrors "github.com/jordigilh/constitution-engine/internal/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies every pending migration in migrations/ to dsn using
// goose, connecting through lib/pq/database/sql rather than the pgx pool
// so it can run ahead of the engine ever opening a PostgresDB.
func Migrate(dsn string) error {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "open migration connection")
	}
	defer db.Close()

	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "set goose dialect")
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return engineerrors.Wrapf(err, engineerrors.ErrorTypeDatabase, "apply migrations")
	}
	return nil
}
