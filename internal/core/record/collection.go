package record

import "fmt"

// Collection names one replicated container.
type Collection string

const (
	Annotations     Collection = "annotations"
	Attachments     Collection = "attachments"
	Comments        Collection = "comments"
	Bookmarks       Collection = "bookmarks"
	FormFields      Collection = "formFields"
	FormFieldValues Collection = "formFieldValues"
)

// All lists the collections in dependency order: attachments before the
// annotations that reference them, form fields before their values.
var All = []Collection{
	Attachments,
	Annotations,
	Comments,
	Bookmarks,
	FormFields,
	FormFieldValues,
}

// Arrays lists the collections stored as ordered sequences.
var Arrays = []Collection{
	Annotations,
	Comments,
	Bookmarks,
	FormFields,
	FormFieldValues,
}

func (c Collection) String() string { return string(c) }

// KeyedByName reports whether records of c are identified by name instead of id.
func (c Collection) KeyedByName() bool { return c == FormFieldValues }

// IsMap reports whether c is stored as a keyed map.
func (c Collection) IsMap() bool { return c == Attachments }

func (c Collection) Valid() bool {
	for _, k := range All {
		if k == c {
			return true
		}
	}
	return false
}

// Rank is the position of c in dependency order.
func (c Collection) Rank() int {
	for i, k := range All {
		if k == c {
			return i
		}
	}
	return len(All)
}

func ParseCollection(s string) (Collection, error) {
	c := Collection(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown collection %q", s)
	}
	return c, nil
}
