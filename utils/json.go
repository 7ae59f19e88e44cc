package utils

import "encoding/json"

// UnmarshalFromJSON decodes an event snapshot into a typed model. The type
// parameter keeps call sites free of interface{} casts.
func UnmarshalFromJSON[T any](data []byte, output *T) error {
	return json.Unmarshal(data, output)
}
