package handler

import "encoding/json"

// Serializer encodes/decodes handler payloads. The default is JSON (spec
// §4.3: "Serializes data with serializer (default: JSON)").
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, out any) error
}

// JSONSerializer is the default Serializer.
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v any) ([]byte, error)        { return json.Marshal(v) }
func (JSONSerializer) Unmarshal(data []byte, out any) error { return json.Unmarshal(data, out) }

// Default is the package-wide default serializer instance.
var Default Serializer = JSONSerializer{}
