package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/b00skit/antelope-sync/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Tx implements store.Tx. ctx must be the session context handed out by
// WithinTx so every operation joins the transaction.
type Tx struct {
	reader
}

var upsert = options.Replace().SetUpsert(true)

func (t *Tx) ReplaceRosterSnapshot(ctx context.Context, snap model.RosterSnapshot) error {
	members := snap.Members
	if members == nil {
		members = []model.CharacterRecord{}
	}
	doc := rosterDoc{FactionID: snap.FactionID, Members: members, LastSync: snap.LastSync.UTC()}
	_, err := t.db.Collection(collRosters).ReplaceOne(ctx, bson.M{"_id": doc.FactionID}, doc, upsert)
	return err
}

func (t *Tx) UpsertAbas(ctx context.Context, records []model.AbasRecord) error {
	if len(records) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, len(records))
	for i, r := range records {
		doc := toAbasDoc(r)
		models[i] = mongo.NewReplaceOneModel().SetFilter(bson.M{"_id": doc.ID}).SetReplacement(doc).SetUpsert(true)
	}
	_, err := t.db.Collection(collAbas).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	return err
}

func (t *Tx) UpsertAlternate(ctx context.Context, e model.AlternateCharacterEntry) error {
	doc := toAlternateDoc(e)
	_, err := t.db.Collection(collAlternates).ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, upsert)
	return err
}

func (t *Tx) DeleteAlternate(ctx context.Context, userID, factionID int64) error {
	_, err := t.db.Collection(collAlternates).DeleteOne(ctx, bson.M{"_id": pairID(userID, factionID)})
	return err
}

func (t *Tx) DeleteAutomaticMemberships(ctx context.Context, typ model.OrganizationType, categoryID int64, characterIDs []int64) error {
	if len(characterIDs) == 0 {
		return nil
	}
	_, err := t.db.Collection(collMemberships).DeleteMany(ctx, bson.M{
		"type":         string(typ),
		"category_id":  categoryID,
		"character_id": bson.M{"$in": characterIDs},
		"manual":       false,
	})
	return err
}

func (t *Tx) InsertAutomaticMemberships(ctx context.Context, typ model.OrganizationType, categoryID int64, characterIDs []int64, at time.Time) error {
	if len(characterIDs) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, len(characterIDs))
	for i, id := range characterIDs {
		doc := membershipDoc{
			ID:          membershipID(typ, categoryID, id),
			Type:        string(typ),
			CategoryID:  categoryID,
			CharacterID: id,
			CreatedAt:   at.UTC(),
		}
		// $setOnInsert leaves an existing row, manual or not, untouched
		models[i] = mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": doc.ID}).
			SetUpdate(bson.M{"$setOnInsert": doc}).
			SetUpsert(true)
	}
	_, err := t.db.Collection(collMemberships).BulkWrite(ctx, models)
	return err
}

func (t *Tx) ReplaceForumGroupSnapshot(ctx context.Context, snap model.ForumGroupSnapshot) error {
	doc := toForumGroupDoc(snap)
	_, err := t.db.Collection(collForumGroups).ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, upsert)
	return err
}

func (t *Tx) AppendAudit(ctx context.Context, e model.AuditEntry) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := t.db.Collection(collCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": collAudit},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate audit id: %w", err)
	}

	if _, err := t.db.Collection(collAudit).InsertOne(ctx, toAuditDoc(counter.Seq, e)); err != nil {
		return 0, err
	}
	return counter.Seq, nil
}
