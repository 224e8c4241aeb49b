// Package parser decodes upstream API responses into domain records.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/b00skit/antelope-sync/internal/model"
)

// ErrSchema is wrapped by every error caused by a response that decodes but
// does not match the expected shape
var ErrSchema = errors.New("unexpected response shape")

// timestamp layouts accepted for last_online / last_duty
var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

// list accepts a bare JSON array or an object wrapping it under "data"
func list(data []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrSchema)
	}
	switch trimmed[0] {
	case '[':
		return trimmed, nil
	case '{':
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON envelope: %w", err)
		}
		if len(envelope.Data) == 0 || envelope.Data[0] != '[' {
			return nil, fmt.Errorf("%w: envelope has no data array", ErrSchema)
		}
		return envelope.Data, nil
	default:
		return nil, fmt.Errorf("%w: expected array or object", ErrSchema)
	}
}

type rosterMember struct {
	CharacterID   int64   `json:"character_id"`
	CharacterName string  `json:"character_name"`
	UserID        int64   `json:"user_id"`
	Rank          int     `json:"rank"`
	RankName      string  `json:"rank_name"`
	LastOnline    *string `json:"last_online"`
	LastDuty      *string `json:"last_duty"`
}

// ParseRoster decodes the members endpoint. Records without a positive
// character id are dropped and counted in skipped. A non-positive user id is
// kept; the classifier skips those records individually.
func ParseRoster(data []byte) (members []model.CharacterRecord, skipped int, err error) {
	raw, err := list(data)
	if err != nil {
		return nil, 0, err
	}

	var records []rosterMember
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal roster: %w", err)
	}

	out := make([]model.CharacterRecord, 0, len(records))
	for i, m := range records {
		if m.CharacterID <= 0 {
			skipped++
			continue
		}
		lastOnline, err := parseTime(m.LastOnline)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: member %d last_online: %v", ErrSchema, i, err)
		}
		lastDuty, err := parseTime(m.LastDuty)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: member %d last_duty: %v", ErrSchema, i, err)
		}
		out = append(out, model.CharacterRecord{
			CharacterID:   m.CharacterID,
			CharacterName: m.CharacterName,
			UserID:        m.UserID,
			Rank:          m.Rank,
			RankName:      m.RankName,
			LastOnline:    lastOnline,
			LastDuty:      lastDuty,
		})
	}
	return out, skipped, nil
}

// ParseAbas decodes the activity-score endpoint. The score is kept as the raw
// text the upstream sent, whether it came as a JSON string or a number.
func ParseAbas(data []byte) ([]model.AbasEntry, error) {
	raw, err := list(data)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		CharacterID int64           `json:"character_id"`
		Abas        json.RawMessage `json:"abas"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal activity scores: %w", err)
	}

	out := make([]model.AbasEntry, 0, len(rows))
	for i, r := range rows {
		if r.CharacterID <= 0 {
			return nil, fmt.Errorf("%w: score %d has no character_id", ErrSchema, i)
		}
		score, err := scoreText(r.Abas)
		if err != nil {
			return nil, fmt.Errorf("%w: score %d: %v", ErrSchema, i, err)
		}
		out = append(out, model.AbasEntry{CharacterID: r.CharacterID, Abas: score})
	}
	return out, nil
}

// ParseForumGroup decodes one forum group. Leaders are flagged on the member
// list; a leader missing from members is appended.
func ParseForumGroup(data []byte) (model.ForumGroup, error) {
	var root struct {
		ID      *int64 `json:"id"`
		Name    string `json:"name"`
		Members []struct {
			Username string `json:"username"`
		} `json:"members"`
		Leaders []struct {
			Username string `json:"username"`
		} `json:"leaders"`
	}
	if err := json.Unmarshal(data, &root); err != nil {
		return model.ForumGroup{}, fmt.Errorf("failed to unmarshal forum group: %w", err)
	}
	if root.ID == nil {
		return model.ForumGroup{}, fmt.Errorf("%w: missing group id", ErrSchema)
	}

	leaders := make(map[string]struct{}, len(root.Leaders))
	for _, l := range root.Leaders {
		leaders[model.NormalizeUsername(l.Username)] = struct{}{}
	}

	g := model.ForumGroup{GroupID: *root.ID, Name: root.Name, Members: make([]model.ForumGroupMember, 0, len(root.Members))}
	listed := make(map[string]struct{}, len(root.Members))
	for _, m := range root.Members {
		name := model.NormalizeUsername(m.Username)
		if name == "" {
			continue
		}
		if _, dup := listed[name]; dup {
			continue
		}
		listed[name] = struct{}{}
		_, lead := leaders[name]
		g.Members = append(g.Members, model.ForumGroupMember{Username: m.Username, Leader: lead})
	}
	for _, l := range root.Leaders {
		name := model.NormalizeUsername(l.Username)
		if _, ok := listed[name]; ok || name == "" {
			continue
		}
		listed[name] = struct{}{}
		g.Members = append(g.Members, model.ForumGroupMember{Username: l.Username, Leader: true})
	}
	return g, nil
}

func scoreText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("missing abas")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	if _, err := strconv.ParseFloat(string(raw), 64); err != nil {
		return "", fmt.Errorf("abas is neither string nor number: %s", raw)
	}
	return string(raw), nil
}

func parseTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, *s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognised timestamp %q", *s)
}
