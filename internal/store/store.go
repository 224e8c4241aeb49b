// Package store defines the transactional persistence contract the engine reads
// from and writes to. Implementations live in the pgstore, mongostore and
// memstore subpackages.
package store

import (
	"context"
	"time"

	"github.com/b00skit/antelope-sync/internal/model"
)

// Reader exposes the cached state used by previews
type Reader interface {
	// RosterSnapshot returns nil when the faction was never synced
	RosterSnapshot(ctx context.Context, factionID int64) (*model.RosterSnapshot, error)
	AbasRecords(ctx context.Context, factionID int64) ([]model.AbasRecord, error)
	AlternateEntries(ctx context.Context, factionID int64) ([]model.AlternateCharacterEntry, error)
	Categories(ctx context.Context, factionID int64) ([]model.OrganizationCategory, error)
	Memberships(ctx context.Context, typ model.OrganizationType, categoryID int64) ([]model.OrganizationMembership, error)
	// ForumIntegration returns nil when the faction has none configured
	ForumIntegration(ctx context.Context, factionID int64) (*model.ForumIntegration, error)
	ForumGroupSnapshots(ctx context.Context, factionID int64) ([]model.ForumGroupSnapshot, error)
	AuditLog(ctx context.Context, factionID int64, limit int) ([]model.AuditEntry, error)
}

// Tx is a unit of work. Writes become visible only when the surrounding
// WithinTx call returns nil.
type Tx interface {
	Reader

	ReplaceRosterSnapshot(ctx context.Context, snap model.RosterSnapshot) error
	UpsertAbas(ctx context.Context, records []model.AbasRecord) error
	UpsertAlternate(ctx context.Context, entry model.AlternateCharacterEntry) error
	DeleteAlternate(ctx context.Context, userID, factionID int64) error
	// DeleteAutomaticMemberships never removes manual rows
	DeleteAutomaticMemberships(ctx context.Context, typ model.OrganizationType, categoryID int64, characterIDs []int64) error
	// InsertAutomaticMemberships skips characters that already have a row
	InsertAutomaticMemberships(ctx context.Context, typ model.OrganizationType, categoryID int64, characterIDs []int64, at time.Time) error
	ReplaceForumGroupSnapshot(ctx context.Context, snap model.ForumGroupSnapshot) error
	AppendAudit(ctx context.Context, entry model.AuditEntry) (int64, error)
}

// TxFunc runs inside a transaction. Returning an error rolls back every write.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is a transactional store
type Store interface {
	Reader

	// WithinTx opens a transaction, runs fn and commits. Any error or panic
	// from fn rolls the transaction back.
	WithinTx(ctx context.Context, fn TxFunc) error

	Ping(ctx context.Context) error
	Close() error
}

// AlternateStore is the subset of Tx the alternate classifier writes through
type AlternateStore interface {
	AlternateEntries(ctx context.Context, factionID int64) ([]model.AlternateCharacterEntry, error)
	UpsertAlternate(ctx context.Context, entry model.AlternateCharacterEntry) error
	DeleteAlternate(ctx context.Context, userID, factionID int64) error
}

// MembershipStore is the subset of Tx the organization reconciler writes through
type MembershipStore interface {
	Memberships(ctx context.Context, typ model.OrganizationType, categoryID int64) ([]model.OrganizationMembership, error)
	DeleteAutomaticMemberships(ctx context.Context, typ model.OrganizationType, categoryID int64, characterIDs []int64) error
	InsertAutomaticMemberships(ctx context.Context, typ model.OrganizationType, categoryID int64, characterIDs []int64, at time.Time) error
}
