package database

import (
	"time"

	"gorm.io/gorm"
)

// ChunkBuildStatus tracks one chunk's progress through the builder
// orchestrator.
type ChunkBuildStatus string

const (
	ChunkBuildPending  ChunkBuildStatus = "pending"
	ChunkBuildRunning  ChunkBuildStatus = "running"
	ChunkBuildComplete ChunkBuildStatus = "complete"
	ChunkBuildFailed   ChunkBuildStatus = "failed"
)

// ChunkBuild is the Postgres bookkeeping row for one source-stop chunk of
// a transfer-pattern build: which worker claimed it, whether it finished,
// and where its chunk file landed. The builder's rmq queue tells a worker
// which chunk to claim next; this table is the durable record of what
// happened once it did.
type ChunkBuild struct {
	gorm.Model

	BuildID int `gorm:"index"`

	ChunkIndex int `gorm:"index"`
	ChunkCount int

	Status ChunkBuildStatus `gorm:"index"`

	ClaimedBy string

	OutputPath string

	StartedAt   *time.Time
	CompletedAt *time.Time

	Error string
}
