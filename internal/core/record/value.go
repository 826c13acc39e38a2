package record

const (
	FormFieldValueType    = "pspdfkit/form-field-value"
	FormFieldValueVersion = 1
)

// FormFieldValue builds the record for a form-field value. value is nil, a
// string or a list of strings.
func FormFieldValue(name string, value any) Record {
	return Record{
		KeyName:    name,
		KeyValue:   NormalizeValue(value),
		KeyType:    FormFieldValueType,
		KeyVersion: FormFieldValueVersion,
	}
}

// NormalizeValue maps a form-field value onto nil, string or []string.
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return t
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return v
}
