package shape

import (
	"strings"

	"github.com/zeusync/annosync/internal/core/record"
)

type hook uint8

const (
	hookNone hook = iota
	hookImage
	hookWidget
)

// Variant describes one supported record shape.
type Variant struct {
	Collection record.Collection
	Type       string
	// Name is the short name of the variant, used in logs.
	Name string
	hook hook
}

const (
	TypeCommentMarker = "pspdfkit/comment-marker"
	TypeEllipse       = "pspdfkit/shape/ellipse"
	TypeHighlight     = "pspdfkit/markup/highlight"
	TypeImage         = "pspdfkit/image"
	TypeInk           = "pspdfkit/ink"
	TypeLine          = "pspdfkit/shape/line"
	TypeLink          = "pspdfkit/link"
	TypeNote          = "pspdfkit/note"
	TypePolygon       = "pspdfkit/shape/polygon"
	TypePolyline      = "pspdfkit/shape/polyline"
	TypeRectangle     = "pspdfkit/shape/rectangle"
	TypeRedaction     = "pspdfkit/markup/redaction"
	TypeSquiggle      = "pspdfkit/markup/squiggly"
	TypeStamp         = "pspdfkit/stamp"
	TypeStrikeOut     = "pspdfkit/markup/strikeout"
	TypeText          = "pspdfkit/text"
	TypeUnderline     = "pspdfkit/markup/underline"
	TypeUnknown       = "pspdfkit/unknown"
	TypeWidget        = "pspdfkit/widget"

	TypeButtonField    = "pspdfkit/form-field/button"
	TypeCheckBoxField  = "pspdfkit/form-field/checkbox"
	TypeComboBoxField  = "pspdfkit/form-field/combobox"
	TypeListBoxField   = "pspdfkit/form-field/listbox"
	TypeRadioField     = "pspdfkit/form-field/radio"
	TypeTextField      = "pspdfkit/form-field/text"
	TypeSignatureField = "pspdfkit/form-field/signature"

	TypeComment  = "pspdfkit/comment"
	TypeBookmark = "pspdfkit/bookmark"

	markupPrefix = "pspdfkit/markup/"
	shapePrefix  = "pspdfkit/shape/"
)

var variants = map[record.Collection]map[string]Variant{}

func register(c record.Collection, typ, name string, h hook) {
	if variants[c] == nil {
		variants[c] = make(map[string]Variant)
	}
	variants[c][typ] = Variant{Collection: c, Type: typ, Name: name, hook: h}
}

func init() {
	for _, v := range []struct {
		typ, name string
		h         hook
	}{
		{TypeCommentMarker, "comment-marker", hookNone},
		{TypeEllipse, "ellipse", hookNone},
		{TypeHighlight, "highlight", hookNone},
		{TypeImage, "image", hookImage},
		{TypeInk, "ink", hookNone},
		{TypeLine, "line", hookNone},
		{TypeLink, "link", hookNone},
		{TypeNote, "note", hookNone},
		{TypePolygon, "polygon", hookNone},
		{TypePolyline, "polyline", hookNone},
		{TypeRectangle, "rectangle", hookNone},
		{TypeRedaction, "redaction", hookNone},
		{TypeSquiggle, "squiggly", hookNone},
		{TypeStamp, "stamp", hookNone},
		{TypeStrikeOut, "strikeout", hookNone},
		{TypeText, "text", hookNone},
		{TypeUnderline, "underline", hookNone},
		{TypeUnknown, "unknown", hookNone},
		{TypeWidget, "widget", hookWidget},
	} {
		register(record.Annotations, v.typ, v.name, v.h)
	}

	for _, v := range []struct{ typ, name string }{
		{TypeButtonField, "button"},
		{TypeCheckBoxField, "checkbox"},
		{TypeComboBoxField, "combobox"},
		{TypeListBoxField, "listbox"},
		{TypeRadioField, "radio"},
		{TypeTextField, "text"},
		{TypeSignatureField, "signature"},
	} {
		register(record.FormFields, v.typ, v.name, hookNone)
	}

	register(record.Comments, TypeComment, "comment", hookNone)
	register(record.Bookmarks, TypeBookmark, "bookmark", hookNone)
	register(record.FormFieldValues, record.FormFieldValueType, "form-field-value", hookNone)
}

// Lookup finds the variant for a discriminant. Markup and shape annotations
// of types not listed fall back to a generic markup or base variant.
func Lookup(c record.Collection, typ string) (Variant, bool) {
	if v, ok := variants[c][typ]; ok {
		return v, true
	}
	if c != record.Annotations {
		return Variant{}, false
	}
	switch {
	case strings.HasPrefix(typ, markupPrefix):
		return Variant{Collection: c, Type: typ, Name: "markup"}, true
	case strings.HasPrefix(typ, shapePrefix):
		return Variant{Collection: c, Type: typ, Name: "annotation"}, true
	}
	return Variant{}, false
}

// Types lists the registered discriminants of a collection.
func Types(c record.Collection) []string {
	out := make([]string, 0, len(variants[c]))
	for typ := range variants[c] {
		out = append(out, typ)
	}
	return out
}
