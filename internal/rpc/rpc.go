// Package rpc serves unary gRPC methods whose request and response are
// google.protobuf.Struct, without generated stubs.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Handler serves one method.
type Handler func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// Service is a named set of methods.
type Service struct {
	Name    string
	Methods map[string]Handler
}

// Desc builds the grpc.ServiceDesc for s.
func (s Service) Desc() *grpc.ServiceDesc {
	names := make([]string, 0, len(s.Methods))
	for name := range s.Methods {
		names = append(names, name)
	}
	sort.Strings(names)

	desc := &grpc.ServiceDesc{
		ServiceName: s.Name,
		HandlerType: (*any)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    s.Name,
	}
	for _, name := range names {
		h := s.Methods[name]
		full := FullMethod(s.Name, name)
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(structpb.Struct)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return h(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
				return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
					return h(ctx, req.(*structpb.Struct))
				})
			},
		})
	}
	return desc
}

// Register adds s to a gRPC server.
func (s Service) Register(registrar grpc.ServiceRegistrar) {
	registrar.RegisterService(s.Desc(), &s)
}

func FullMethod(service, method string) string {
	return "/" + service + "/" + method
}

// Invoke calls a Struct method on conn.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, service, method string, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, FullMethod(service, method), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Encode converts any JSON-marshalable value into a Struct.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode: value is not an object: %w", err)
	}
	return structpb.NewStruct(m)
}

// Decode fills v from a Struct through its JSON form.
func Decode(s *structpb.Struct, v any) error {
	data, err := s.MarshalJSON()
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
