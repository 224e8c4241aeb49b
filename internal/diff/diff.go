// Package diff computes three-way differences between a live upstream data set
// and its locally cached copy.
//
// The computation is pure: it performs no I/O, so the same call can run during a
// preview and again inside a commit transaction with identical results.
package diff

// Field is one compared attribute of an entity. Value renders the attribute as
// the exact string used for equality checks; no numeric normalisation happens,
// so "12.00" and "12.0" are different values.
type Field[T any] struct {
	Name  string
	Value func(T) string
}

// Options configures a single Compute call
type Options[T any, K comparable] struct {
	// Key extracts the identity of an entity
	Key func(T) K

	// Fields are compared in order and reported in that order
	Fields []Field[T]

	// TrackRemovals disables the removed bucket when false. Sparse caches
	// such as activity scores are diffed in added/updated-only mode.
	TrackRemovals bool
}

// FieldChange describes one compared field of an updated entity. Unchanged
// fields are carried verbatim so a consumer can render the full row.
type FieldChange struct {
	Field   string `json:"field"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Changed bool   `json:"changed"`
}

// ChangeRecord is an entity present on both sides with at least one changed field
type ChangeRecord[K comparable] struct {
	Key    K             `json:"key"`
	Fields []FieldChange `json:"fields"`
}

// Changed returns only the fields whose value differs
func (c ChangeRecord[K]) Changed() []FieldChange {
	var out []FieldChange
	for _, f := range c.Fields {
		if f.Changed {
			out = append(out, f)
		}
	}
	return out
}

// Field looks up a compared field by name
func (c ChangeRecord[K]) Field(name string) (FieldChange, bool) {
	for _, f := range c.Fields {
		if f.Field == name {
			return f, true
		}
	}
	return FieldChange{}, false
}

// Diff is the result of Compute. SourceData always holds the full live data set
// so a commit can replay it without fetching again.
type Diff[T any, K comparable] struct {
	Added      []T               `json:"added"`
	Updated    []ChangeRecord[K] `json:"updated"`
	Removed    []T               `json:"removed"`
	SourceData []T               `json:"source_data"`
}

// Stats summarises a diff
type Stats struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
}

// HasChanges reports whether applying the diff would change anything
func (s Stats) HasChanges() bool {
	return s.Added > 0 || s.Updated > 0 || s.Removed > 0
}

// Stats returns the bucket sizes
func (d Diff[T, K]) Stats() Stats {
	return Stats{Added: len(d.Added), Updated: len(d.Updated), Removed: len(d.Removed)}
}

// Compute diffs live against cached.
//
// The algorithm:
//  1. Index both sides by key; for duplicate keys the first occurrence wins
//  2. Walk live in order: missing from cached -> added, present with a
//     differing field -> updated, otherwise skipped
//  3. Walk cached in order: missing from live -> removed (if tracked)
//
// Output order is deterministic for a given input.
func Compute[T any, K comparable](live, cached []T, opts Options[T, K]) Diff[T, K] {
	cachedByKey := make(map[K]T, len(cached))
	for _, c := range cached {
		k := opts.Key(c)
		if _, dup := cachedByKey[k]; !dup {
			cachedByKey[k] = c
		}
	}

	liveKeys := make(map[K]struct{}, len(live))
	d := Diff[T, K]{
		Added:      []T{},
		Updated:    []ChangeRecord[K]{},
		Removed:    []T{},
		SourceData: live,
	}
	if d.SourceData == nil {
		d.SourceData = []T{}
	}

	for _, l := range live {
		k := opts.Key(l)
		if _, seen := liveKeys[k]; seen {
			continue
		}
		liveKeys[k] = struct{}{}

		c, ok := cachedByKey[k]
		if !ok {
			d.Added = append(d.Added, l)
			continue
		}
		if rec, changed := compare(k, c, l, opts.Fields); changed {
			d.Updated = append(d.Updated, rec)
		}
	}

	if opts.TrackRemovals {
		removedKeys := make(map[K]struct{})
		for _, c := range cached {
			k := opts.Key(c)
			if _, inLive := liveKeys[k]; inLive {
				continue
			}
			if _, done := removedKeys[k]; done {
				continue
			}
			removedKeys[k] = struct{}{}
			d.Removed = append(d.Removed, c)
		}
	}

	return d
}

func compare[T any, K comparable](key K, old, cur T, fields []Field[T]) (ChangeRecord[K], bool) {
	rec := ChangeRecord[K]{Key: key, Fields: make([]FieldChange, len(fields))}
	changed := false
	for i, f := range fields {
		o, n := f.Value(old), f.Value(cur)
		rec.Fields[i] = FieldChange{Field: f.Name, Old: o, New: n, Changed: o != n}
		if o != n {
			changed = true
		}
	}
	return rec, changed
}
