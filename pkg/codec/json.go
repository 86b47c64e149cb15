package codec

import (
	"encoding/json"

	"github.com/tidwall/jsonc"
)

// JSON encodes with encoding/json and decodes leniently: comments and
// trailing commas are stripped first so hand-edited records still load.
var JSON Codec = jsonCodec{}

type jsonCodec struct{}

func (jsonCodec) Name() string      { return "json" }
func (jsonCodec) Extension() string { return ".json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(jsonc.ToJSON(data), v)
}
