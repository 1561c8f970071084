package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// EntityStub is the id/name pair a filter document carries for a catalog
// reference entity (genre, language, trope). The catalog itself lives in
// an external store; sessions only ever exchange stubs.
type EntityStub struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// FilterSet is the shared filter document of a session. Scalar fields use
// the empty string as the "unset" sentinel so the document round-trips the
// browser's form state without null-handling. The document is always
// written wholesale: there is no field-level merge.
type FilterSet struct {
	MinYear    string       `json:"minYear"`
	MaxYear    string       `json:"maxYear"`
	MinRating  string       `json:"minRating"`
	MaxRating  string       `json:"maxRating"`
	MinRuntime string       `json:"minRuntime"`
	MaxRuntime string       `json:"maxRuntime"`
	Director   string       `json:"director"`
	Genres     []EntityStub `json:"genres"`
	Languages  []EntityStub `json:"languages"`
	Tropes     []EntityStub `json:"tropes"`
}

// DefaultFilterSet returns the complete empty document: all scalars unset
// and all lists present but empty (never null on the wire).
func DefaultFilterSet() FilterSet {
	return FilterSet{
		Genres:    []EntityStub{},
		Languages: []EntityStub{},
		Tropes:    []EntityStub{},
	}
}

// Normalized merges the receiver over the default document, guaranteeing a
// complete filter record: nil lists become empty lists, scalars keep their
// zero-value "" sentinel.
func (f FilterSet) Normalized() FilterSet {
	if f.Genres == nil {
		f.Genres = []EntityStub{}
	}
	if f.Languages == nil {
		f.Languages = []EntityStub{}
	}
	if f.Tropes == nil {
		f.Tropes = []EntityStub{}
	}
	return f
}

// Equal reports deep value equality between two filter documents. Nil and
// empty lists compare equal, so a normalized echo of a document matches the
// original. This is what auto-sync echo suppression relies on.
func (f FilterSet) Equal(other FilterSet) bool {
	if f.MinYear != other.MinYear ||
		f.MaxYear != other.MaxYear ||
		f.MinRating != other.MinRating ||
		f.MaxRating != other.MaxRating ||
		f.MinRuntime != other.MinRuntime ||
		f.MaxRuntime != other.MaxRuntime ||
		f.Director != other.Director {
		return false
	}
	return stubsEqual(f.Genres, other.Genres) &&
		stubsEqual(f.Languages, other.Languages) &&
		stubsEqual(f.Tropes, other.Tropes)
}

func stubsEqual(a, b []EntityStub) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ActiveCount returns how many filter fields are set, for display next to
// the session code.
func (f FilterSet) ActiveCount() int {
	count := 0
	for _, v := range []string{f.MinYear, f.MaxYear, f.MinRating, f.MaxRating, f.MinRuntime, f.MaxRuntime, f.Director} {
		if v != "" {
			count++
		}
	}
	for _, l := range [][]EntityStub{f.Genres, f.Languages, f.Tropes} {
		if len(l) > 0 {
			count++
		}
	}
	return count
}

// Value implements driver.Valuer so the document is stored as JSONB.
func (f FilterSet) Value() (driver.Value, error) {
	return json.Marshal(f.Normalized())
}

// Scan implements sql.Scanner for the JSONB column.
func (f *FilterSet) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, f)
	case string:
		return json.Unmarshal([]byte(v), f)
	case nil:
		*f = DefaultFilterSet()
		return nil
	default:
		return fmt.Errorf("unsupported filter column type %T", src)
	}
}
