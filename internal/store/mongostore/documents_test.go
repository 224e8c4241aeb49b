package mongostore

import (
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/b00skit/antelope-sync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestDocumentIDs(t *testing.T) {
	assert.Equal(t, "7:2", pairID(7, 2))
	assert.Equal(t, "unit:5:10", membershipID(model.OrganizationUnit, 5, 10))
	assert.NotEqual(t, membershipID(model.OrganizationUnit, 5, 10), membershipID(model.OrganizationDetail, 5, 10))
}

func TestAlternateDocument(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entry := model.AlternateCharacterEntry{
		UserID: 9, FactionID: 1, CharacterID: 101, CharacterName: "Main", Rank: 10, ManuallySet: true,
		Alternatives: []model.CharacterRecord{{CharacterID: 102, UserID: 9, Rank: 3}},
		UpdatedAt:    at,
	}

	doc := toAlternateDoc(entry)
	assert.Equal(t, "9:1", doc.ID)

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var m bson.M
	require.NoError(t, bson.Unmarshal(raw, &m))
	assert.Contains(t, m, "alternative_characters")
	assert.Equal(t, true, m["manually_set"])

	var back alternateDoc
	require.NoError(t, bson.Unmarshal(raw, &back))
	assert.Equal(t, entry, back.entry())
}

func TestAlternateDocumentNeverStoresNullAlternatives(t *testing.T) {
	doc := toAlternateDoc(model.AlternateCharacterEntry{UserID: 1, FactionID: 1})
	assert.NotNil(t, doc.Alternatives)
}

func TestCategoryDocument(t *testing.T) {
	group := int64(40)
	c, err := categoryDoc{Type: "unit", CategoryID: 5, FactionID: 1, Name: "SWAT", ForumGroupID: &group}.category()
	require.NoError(t, err)
	assert.Equal(t, model.OrganizationUnit, c.Type)
	assert.Equal(t, &group, c.ForumGroupID)

	_, err = categoryDoc{Type: "squad"}.category()
	assert.Error(t, err)

	raw, err := bson.Marshal(categoryDoc{ID: "unit:6", Type: "unit"})
	require.NoError(t, err)
	var m bson.M
	require.NoError(t, bson.Unmarshal(raw, &m))
	assert.NotContains(t, m, "forum_group_id")
}

func TestAuditDocument(t *testing.T) {
	entry := model.AuditEntry{
		FactionID: 1,
		Kind:      model.KindOrganization,
		Actor:     "Jane_Roe",
		Summary:   model.AuditSummary{Added: 2, Removed: 1},
		Detail:    json.RawMessage(`[{"type":"unit","category_id":5}]`),
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	doc := toAuditDoc(42, entry)
	got := doc.entry()
	assert.Equal(t, int64(42), got.ID)
	assert.Equal(t, entry.Summary, got.Summary)
	assert.JSONEq(t, string(entry.Detail), string(got.Detail))

	assert.Equal(t, "{}", toAuditDoc(1, model.AuditEntry{}).Detail)
}

func TestAbasDocument(t *testing.T) {
	rec := model.AbasRecord{CharacterID: 7, FactionID: 2, Abas: "12.00", LastSync: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	doc := toAbasDoc(rec)
	assert.Equal(t, "7:2", doc.ID)
	assert.Equal(t, rec, doc.record())
}
