// Package grpcjson registers a grpc encoding.Codec that marshals plain
// JSON-tagged Go structs under grpc's default "proto" content-subtype.
//
// The worker-executor API has no protoc-generated stubs; its service
// description is hand-authored in pkg/rpc. Registering this codec under
// the name grpc negotiates by default lets client and server exchange the
// plain request/response structs of pkg/rpc while grpc keeps doing the
// real work: connection management, streaming, interceptors, codec
// negotiation.
package grpcjson

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const Name = "proto"

type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (codec) Name() string { return Name }

func init() {
	encoding.RegisterCodec(codec{})
}
