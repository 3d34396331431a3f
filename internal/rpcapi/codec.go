package rpcapi

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
)

// jsonFallbackCodec lets the hand-authored request/response structs in this
// package travel over grpc-go's wire framing without a protoc/buf toolchain
// available to generate real *.pb.go messages. It registers under "proto",
// grpc-go's default content-subtype name, so ordinary clients (that never
// set grpc.CallContentSubtype) dispatch through it automatically.
//
// Registering under the default name would normally also hijack the
// built-in health service (google.golang.org/grpc/health), which exchanges
// genuine protobuf-v2 messages. To avoid breaking that service, this codec
// type-switches: a value satisfying proto.Message marshals through the real
// binary protobuf codec; everything else (this package's plain structs)
// marshals as JSON.
type jsonFallbackCodec struct{}

func (jsonFallbackCodec) Name() string { return "proto" }

func (jsonFallbackCodec) Marshal(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpcapi: marshal %T: %w", v, err)
	}
	return b, nil
}

func (jsonFallbackCodec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpcapi: unmarshal into %T: %w", v, err)
	}
	return nil
}

// RegisterCodec installs the fallback codec as grpc-go's default wire
// codec. Call once, before constructing the grpc.Server.
func RegisterCodec() {
	encoding.RegisterCodec(jsonFallbackCodec{})
}
