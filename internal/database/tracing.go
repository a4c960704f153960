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
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/jordigilh/constitution-engine/internal/database")

// WithTracing wraps db so every transaction runs inside one otel span
// covering Begin through Commit or Rollback. One storage transaction
// covers one public operation (checkout_work, submit_work, ...), so one
// span per transaction gives an operator the same unit an audit-log
// reader already sees.
func WithTracing(db DB) DB {
	return &tracingDB{DB: db}
}

type tracingDB struct {
	DB
}

func (t *tracingDB) Begin(ctx context.Context) (Tx, error) {
	spanCtx, span := tracer.Start(ctx, "database.Tx")
	tx, err := t.DB.Begin(spanCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}
	return &tracingTx{Tx: tx, span: span}, nil
}

type tracingTx struct {
	Tx
	span trace.Span
}

func (t *tracingTx) Commit(ctx context.Context) error {
	err := t.Tx.Commit(ctx)
	t.span.SetAttributes(attribute.Bool("committed", err == nil))
	if err != nil {
		t.span.RecordError(err)
		t.span.SetStatus(codes.Error, err.Error())
	}
	t.span.End()
	return err
}

func (t *tracingTx) Rollback(ctx context.Context) error {
	err := t.Tx.Rollback(ctx)
	t.span.SetAttributes(attribute.Bool("committed", false))
	t.span.End()
	return err
}
