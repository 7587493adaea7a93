package eav

import (
	"database/sql"
	"fmt"
)

// Ent is a reconstructed entity: its key, its entity-level modified
// timestamp and its decoded attribute map.
type Ent struct {
	Key      string
	Modified int64
	Attrs    map[string]any
}

// entAttrRow is one flat row of the compiled entity query: one attribute of
// one entity, or an attribute-less entity with NULL attribute columns.
type entAttrRow struct {
	Attr   sql.NullString `db:"attr"`
	Value  sql.NullString `db:"value"`
	Type   sql.NullString `db:"type"`
	EntKey string         `db:"ent_key"`
	EntMod int64          `db:"ent_modified"`
}

// attrInsertRow is the named-parameter shape of one attrs insert.
type attrInsertRow struct {
	Key      string         `db:"key"`
	EntKey   string         `db:"ent_key"`
	Attr     string         `db:"attr"`
	Value    string         `db:"value"`
	Type     sql.NullString `db:"type"`
	Modified int64          `db:"modified"`
}

// entsFromRows folds the flat row stream into entities. The first row seen
// for a key fixes the entity's modified timestamp; rows with a NULL attribute
// column contribute no attribute entry, so attribute-less entities surface
// with an empty map. Row order within an entity is not significant: each
// (ent_key, attr) pair appears at most once.
func entsFromRows(rows []entAttrRow) (map[string]*Ent, error) {
	ents := make(map[string]*Ent, len(rows))
	for _, r := range rows {
		ent, ok := ents[r.EntKey]
		if !ok {
			ent = &Ent{Key: r.EntKey, Modified: r.EntMod, Attrs: map[string]any{}}
			ents[r.EntKey] = ent
		}
		if !r.Attr.Valid {
			continue
		}
		v, err := DeserializeValue(r.Value.String, r.Type.String)
		if err != nil {
			return nil, fmt.Errorf("decode attr %q of %q: %w", r.Attr.String, r.EntKey, err)
		}
		ent.Attrs[r.Attr.String] = v
	}
	return ents, nil
}
