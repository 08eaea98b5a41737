package rpc

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func dial(t *testing.T, svc Service) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	svc.Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestInvokeRoundTrip(t *testing.T) {
	svc := Service{
		Name: "gohome.test.v1.Echo",
		Methods: map[string]Handler{
			"Echo": func(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return structpb.NewStruct(map[string]any{"got": req.GetFields()["name"].GetStringValue()})
			},
			"Fail": func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
				return nil, status.Error(codes.NotFound, "nope")
			},
		},
	}
	conn := dial(t, svc)

	req, _ := structpb.NewStruct(map[string]any{"name": "living"})
	resp, err := Invoke(context.Background(), conn, svc.Name, "Echo", req)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got := resp.GetFields()["got"].GetStringValue(); got != "living" {
		t.Fatalf("unexpected response %q", got)
	}

	_, err = Invoke(context.Background(), conn, svc.Name, "Fail", nil)
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	_, err = Invoke(context.Background(), conn, svc.Name, "Missing", nil)
	if status.Code(err) != codes.Unimplemented {
		t.Fatalf("expected Unimplemented, got %v", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	type unit struct {
		ID    string  `json:"id"`
		Temp  float64 `json:"temp"`
		Power bool    `json:"power"`
	}
	s, err := Encode(unit{ID: "a", Temp: 21.5, Power: true})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out unit
	if err := Decode(s, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID != "a" || out.Temp != 21.5 || !out.Power {
		t.Fatalf("unexpected value %+v", out)
	}

	if _, err := Encode([]int{1}); err == nil {
		t.Fatalf("expected error for non-object")
	}
}
