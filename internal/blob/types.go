// Package blob is the entry point to the blob backends the statistics store
// can sit on. Callers depend on Store; only this package imports the
// concrete implementations.
package blob

import (
	"opchain/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory driver.
	DriverMemory = core.DriverMemory
)

var (
	// ErrNotFound reports an unknown key.
	ErrNotFound = core.ErrNotFound
	// ErrExists reports a Put on a taken key.
	ErrExists = core.ErrExists
)
