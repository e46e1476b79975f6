package grpcx

import "github.com/goccy/go-json"

const JSONCodecName = "json"

// JSONCodec lets plain Go structs travel over gRPC without generated stubs. Both
// ends must select the "json" content subtype.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Name() string                       { return JSONCodecName }
