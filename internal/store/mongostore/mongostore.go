// Package mongostore implements store.Store on MongoDB. Commits run inside a
// multi-document transaction, so the server has to be a replica set.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/b00skit/antelope-sync/internal/model"
	"github.com/b00skit/antelope-sync/internal/store"
	"github.com/b00skit/antelope-sync/pkg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// Config holds MongoDB connection settings
type Config struct {
	URI      string
	Database string
}

// Store implements store.Store
type Store struct {
	reader
	client *mongo.Client
	logger *logger.Logger
}

var _ store.Store = (*Store)(nil)

// New connects to MongoDB and verifies the connection
func New(ctx context.Context, cfg Config, l *logger.Logger) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &Store{reader: reader{db: client.Database(cfg.Database)}, client: client, logger: l}, nil
}

// EnsureIndexes creates the secondary indexes used by the faction lookups
func (s *Store) EnsureIndexes(ctx context.Context) error {
	byFaction := mongo.IndexModel{Keys: bson.D{{Key: "faction_id", Value: 1}}}
	for _, coll := range []string{collAbas, collAlternates, collCategories, collForumGroups} {
		if _, err := s.db.Collection(coll).Indexes().CreateOne(ctx, byFaction); err != nil {
			return fmt.Errorf("failed to index %s: %w", coll, err)
		}
	}
	if _, err := s.db.Collection(collMemberships).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "type", Value: 1}, {Key: "category_id", Value: 1}},
	}); err != nil {
		return fmt.Errorf("failed to index %s: %w", collMemberships, err)
	}
	if _, err := s.db.Collection(collAudit).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "faction_id", Value: 1}, {Key: "_id", Value: -1}},
	}); err != nil {
		return fmt.Errorf("failed to index %s: %w", collAudit, err)
	}
	return nil
}

// WithinTx runs fn inside a session transaction. The driver may run fn
// again on transient transaction errors.
func (s *Store) WithinTx(ctx context.Context, fn store.TxFunc) (err error) {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	txOpts := options.Transaction().SetWriteConcern(writeconcern.Majority())
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (result interface{}, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("transaction aborted: %v", p)
			}
		}()
		return nil, fn(sc, &Tx{reader: s.reader})
	}, txOpts)
	return err
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

type reader struct {
	db *mongo.Database
}

func (r reader) RosterSnapshot(ctx context.Context, factionID int64) (*model.RosterSnapshot, error) {
	var doc rosterDoc
	err := r.db.Collection(collRosters).FindOne(ctx, bson.M{"_id": factionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model.RosterSnapshot{FactionID: doc.FactionID, Members: doc.Members, LastSync: doc.LastSync}, nil
}

func (r reader) AbasRecords(ctx context.Context, factionID int64) ([]model.AbasRecord, error) {
	var docs []abasDoc
	if err := r.findAll(ctx, collAbas, bson.M{"faction_id": factionID}, bson.D{{Key: "character_id", Value: 1}}, &docs); err != nil {
		return nil, err
	}
	out := make([]model.AbasRecord, len(docs))
	for i, d := range docs {
		out[i] = d.record()
	}
	return out, nil
}

func (r reader) AlternateEntries(ctx context.Context, factionID int64) ([]model.AlternateCharacterEntry, error) {
	var docs []alternateDoc
	if err := r.findAll(ctx, collAlternates, bson.M{"faction_id": factionID}, bson.D{{Key: "user_id", Value: 1}}, &docs); err != nil {
		return nil, err
	}
	out := make([]model.AlternateCharacterEntry, len(docs))
	for i, d := range docs {
		out[i] = d.entry()
	}
	return out, nil
}

func (r reader) Categories(ctx context.Context, factionID int64) ([]model.OrganizationCategory, error) {
	var docs []categoryDoc
	if err := r.findAll(ctx, collCategories, bson.M{"faction_id": factionID}, bson.D{{Key: "type", Value: 1}, {Key: "category_id", Value: 1}}, &docs); err != nil {
		return nil, err
	}
	out := make([]model.OrganizationCategory, 0, len(docs))
	for _, d := range docs {
		c, err := d.category()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r reader) Memberships(ctx context.Context, typ model.OrganizationType, categoryID int64) ([]model.OrganizationMembership, error) {
	var docs []membershipDoc
	filter := bson.M{"type": string(typ), "category_id": categoryID}
	if err := r.findAll(ctx, collMemberships, filter, bson.D{{Key: "character_id", Value: 1}}, &docs); err != nil {
		return nil, err
	}
	out := make([]model.OrganizationMembership, len(docs))
	for i, d := range docs {
		out[i] = d.membership()
	}
	return out, nil
}

func (r reader) ForumIntegration(ctx context.Context, factionID int64) (*model.ForumIntegration, error) {
	var doc integrationDoc
	err := r.db.Collection(collIntegrations).FindOne(ctx, bson.M{"_id": factionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model.ForumIntegration{FactionID: doc.FactionID, BaseURL: doc.BaseURL, APIKey: doc.APIKey, GroupIDs: doc.GroupIDs}, nil
}

func (r reader) ForumGroupSnapshots(ctx context.Context, factionID int64) ([]model.ForumGroupSnapshot, error) {
	var docs []forumGroupDoc
	if err := r.findAll(ctx, collForumGroups, bson.M{"faction_id": factionID}, bson.D{{Key: "group_id", Value: 1}}, &docs); err != nil {
		return nil, err
	}
	out := make([]model.ForumGroupSnapshot, len(docs))
	for i, d := range docs {
		out[i] = d.snapshot()
	}
	return out, nil
}

func (r reader) AuditLog(ctx context.Context, factionID int64, limit int) ([]model.AuditEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.db.Collection(collAudit).Find(ctx, bson.M{"faction_id": factionID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []auditDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.AuditEntry, len(docs))
	for i, d := range docs {
		out[i] = d.entry()
	}
	return out, nil
}

func (r reader) findAll(ctx context.Context, coll string, filter bson.M, sort bson.D, out interface{}) error {
	cur, err := r.db.Collection(coll).Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", coll, err)
	}
	if err := cur.All(ctx, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", coll, err)
	}
	return nil
}
