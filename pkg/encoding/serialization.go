package encoding

// Serializable provides a clean, simple interface for serializing and deserializing values.
type Serializable[T any] interface {
	Serialize() ([]byte, error)
	Deserialize([]byte) error
}

// Marshal serializes v.
func Marshal[T any](v Serializable[T]) ([]byte, error) {
	return v.Serialize()
}

// Unmarshal deserializes data into a fresh value created by newValue.
func Unmarshal[T Serializable[T]](data []byte, newValue func() T) (T, error) {
	v := newValue()
	if err := v.Deserialize(data); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}
