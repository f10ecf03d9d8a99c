// Package crrerrors defines the merge engine's error taxonomy.
//
// Each kind is its own struct so callers can type-switch on cause rather
// than parse messages. DbError, SchemaError and SyncBitError wrap an
// underlying error; every other kind is a leaf produced directly by the
// merge path.
package crrerrors

import "fmt"

// SelfPatchError reports that a change record's site id equals the local
// site id — a site must never be patched with its own id.
type SelfPatchError struct {
	SiteID []byte
}

func (e *SelfPatchError) Error() string {
	return fmt.Sprintf("crr: a site is trying to patch itself (site=%x)", e.SiteID)
}

// NewSelfPatchError constructs a SelfPatchError.
func NewSelfPatchError(siteID []byte) *SelfPatchError {
	return &SelfPatchError{SiteID: siteID}
}

// UnknownTableError reports that the change record's table is not a
// known CRR.
type UnknownTableError struct {
	Table string
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("crr: could not find the schema information for table %s", e.Table)
}

// NewUnknownTableError constructs an UnknownTableError.
func NewUnknownTableError(table string) *UnknownTableError {
	return &UnknownTableError{Table: table}
}

// InputTooLongError reports that the table name or site id exceeded its
// configured bound.
type InputTooLongError struct {
	Field string
	Limit int
	Got   int
}

func (e *InputTooLongError) Error() string {
	return fmt.Sprintf("crr: %s exceeded max length (limit=%d, got=%d)", e.Field, e.Limit, e.Got)
}

// NewInputTooLongError constructs an InputTooLongError.
func NewInputTooLongError(field string, limit, got int) *InputTooLongError {
	return &InputTooLongError{Field: field, Limit: limit, Got: got}
}

// BadColumnError reports a cid out of [0, baseColsLen) for a non-sentinel
// column update.
type BadColumnError struct {
	Table string
	CID   int32
}

func (e *BadColumnError) Error() string {
	return fmt.Sprintf("crr: out of bounds column id (%d) provided for patch to %s", e.CID, e.Table)
}

// NewBadColumnError constructs a BadColumnError.
func NewBadColumnError(table string, cid int32) *BadColumnError {
	return &BadColumnError{Table: table, CID: cid}
}

// PkDecodeError reports that the packed primary-key blob could not be
// split into the table's declared pk arity.
type PkDecodeError struct {
	Reason string
}

func (e *PkDecodeError) Error() string {
	return fmt.Sprintf("crr: failed decoding primary keys for insert: %s", e.Reason)
}

// NewPkDecodeError constructs a PkDecodeError.
func NewPkDecodeError(reason string) *PkDecodeError {
	return &PkDecodeError{Reason: reason}
}

// BadValueError reports that the packed single-column value could not be
// decoded.
type BadValueError struct {
	Reason string
}

func (e *BadValueError) Error() string {
	return fmt.Sprintf("crr: failed sanitizing value for changeset: %s", e.Reason)
}

// NewBadValueError constructs a BadValueError.
func NewBadValueError(reason string) *BadValueError {
	return &BadValueError{Reason: reason}
}

// SchemaError reports that the schema-introspection collaborator failed
// to produce table information.
type SchemaError struct {
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crr: failed to update crr table information: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("crr: failed to update crr table information: %s", e.Reason)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// NewSchemaError constructs a SchemaError.
func NewSchemaError(reason string, err error) *SchemaError {
	return &SchemaError{Reason: reason, Err: err}
}

// SyncBitError reports that the sync bit could not be set. Clearing the
// sync bit never produces this error — release is best-effort.
type SyncBitError struct {
	Err error
}

func (e *SyncBitError) Error() string {
	return fmt.Sprintf("crr: failed setting sync bit: %v", e.Err)
}

func (e *SyncBitError) Unwrap() error { return e.Err }

// NewSyncBitError constructs a SyncBitError.
func NewSyncBitError(err error) *SyncBitError {
	return &SyncBitError{Err: err}
}

// DbError wraps any underlying prepare/step/exec failure from the
// database handle, with the engine's own message attached.
type DbError struct {
	Message string
	Err     error
}

func (e *DbError) Error() string {
	return fmt.Sprintf("crr: %s: %v", e.Message, e.Err)
}

func (e *DbError) Unwrap() error { return e.Err }

// NewDbError constructs a DbError.
func NewDbError(message string, err error) *DbError {
	return &DbError{Message: message, Err: err}
}
