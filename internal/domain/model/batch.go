// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "fmt"

// ProgramOpKind is the kind of a single program edit.
type ProgramOpKind string

const (
	OpInsert ProgramOpKind = "insert"
	OpUpdate ProgramOpKind = "update"
	OpDelete ProgramOpKind = "delete"
)

// ProgramOp is one edit of a program batch.
// ID names the stored row for updates and deletes; Program carries the
// new fields for inserts and updates.
type ProgramOp struct {
	Kind    ProgramOpKind
	ID      int64
	Program Program
}

// InsertOp builds an insert of p.
func InsertOp(p Program) ProgramOp { return ProgramOp{Kind: OpInsert, Program: p} }

// UpdateOp overwrites row id with the fields of p.
func UpdateOp(id int64, p Program) ProgramOp {
	p.ID = id
	return ProgramOp{Kind: OpUpdate, ID: id, Program: p}
}

// DeleteOp removes row id.
func DeleteOp(id int64) ProgramOp { return ProgramOp{Kind: OpDelete, ID: id} }

// BatchError reports a batched write that did not commit.
// Applied counts the ops of earlier batches that did commit.
type BatchError struct {
	Applied int
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("program batch failed after %d applied ops: %v", e.Applied, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
