package kit

import (
	"context"
	"errors"
	"testing"
)

func TestChainOrder(t *testing.T) {
	var calls []string
	mk := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				calls = append(calls, name)
				return next(ctx, req)
			}
		}
	}

	ep := Chain(mk("outer"), mk("inner"))(func(ctx context.Context, req any) (any, error) {
		calls = append(calls, "endpoint")
		return "done", nil
	})

	out, err := ep(context.Background(), nil)
	if err != nil {
		t.Fatalf("endpoint: %v", err)
	}
	if out != "done" {
		t.Errorf("out = %v", out)
	}
	want := []string{"outer", "inner", "endpoint"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %s, want %s", i, calls[i], want[i])
		}
	}
}

func TestLoggingPassesThroughErrors(t *testing.T) {
	wantErr := errors.New("downstream failed")
	ep := Logging("op")(func(ctx context.Context, req any) (any, error) {
		return nil, wantErr
	})
	if _, err := ep(context.Background(), nil); !errors.Is(err, wantErr) {
		t.Errorf("err = %v", err)
	}
}

func TestRequestContext(t *testing.T) {
	ctx := context.Background()
	if RequestID(ctx) != "" || Transport(ctx) != "" {
		t.Error("empty context carries values")
	}
	ctx = WithRequestID(WithTransport(ctx, "http"), "req-123")
	if RequestID(ctx) != "req-123" {
		t.Errorf("request id = %q", RequestID(ctx))
	}
	if Transport(ctx) != "http" {
		t.Errorf("transport = %q", Transport(ctx))
	}
}
