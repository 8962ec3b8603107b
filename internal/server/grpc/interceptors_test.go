package grpcserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/tvkeeper/internal/authctx"
	"github.com/and161185/tvkeeper/internal/errs"
	"github.com/and161185/tvkeeper/internal/model"
	"github.com/and161185/tvkeeper/internal/token"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

func TestLoggingUnary_Passthrough(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := LoggingUnary(log)

	ctx := context.Background()

	ctx = peer.NewContext(ctx, &peer.Peer{Addr: fakeAddr{}})

	h := func(ctx context.Context, req any) (any, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: "/tvk.Test/Method"}

	resp, err := ic(ctx, "req", info, h)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s, _ := resp.(string); s != "ok" {
		t.Fatalf("resp mismatch: %v", resp)
	}

	wantErr := errors.New("boom")
	hErr := func(ctx context.Context, req any) (any, error) { return nil, wantErr }
	_, err = ic(ctx, "req", info, hErr)
	if !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}
}

func TestRecoverUnary_CatchesPanic(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := RecoverUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/tvk.Test/Panic"}

	panicH := func(ctx context.Context, req any) (any, error) {
		panic("oh no")
	}

	_, err := ic(ctx, "req", info, panicH)
	if err == nil {
		t.Fatalf("expected error from panic")
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
}

func TestRecoverUnary_NoPanicPassThrough(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := RecoverUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/tvk.Test/Ok"}

	h := func(ctx context.Context, req any) (any, error) { return 42, nil }

	resp, err := ic(ctx, "req", info, h)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if resp.(int) != 42 {
		t.Fatalf("resp mismatch: %v", resp)
	}
}

func TestLoggingUnary_DurationFieldDoesNotBlock(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := LoggingUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/tvk.Test/Sleep"}
	h := func(ctx context.Context, req any) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return "done", nil
	}

	start := time.Now()
	resp, err := ic(ctx, "req", info, h)
	if err != nil || resp.(string) != "done" {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Fatalf("duration should reflect handler time")
	}
}

type fakeAuth struct {
	claims token.Claims
	err    error
	seen   string
	calls  int
}

func (f *fakeAuth) Authenticate(_ context.Context, header string) (token.Claims, error) {
	f.calls++
	f.seen = header
	return f.claims, f.err
}

func TestAuthUnary_StoresClaims(t *testing.T) {
	t.Parallel()

	id := uuid.Must(uuid.NewV4())
	fa := &fakeAuth{claims: token.Claims{Sub: token.Subject{ID: id.String(), Role: model.RoleUser}, Username: "a@x.com"}}
	ic := AuthUnary(fa, zaptest.NewLogger(t))

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer abc"))
	info := &grpc.UnaryServerInfo{FullMethod: "/tvk.Test/Private"}
	h := func(ctx context.Context, req any) (any, error) {
		got, ok := authctx.UserIDFromCtx(ctx)
		if !ok || got != id {
			t.Errorf("claims not propagated: %v %v", got, ok)
		}
		return "ok", nil
	}

	if _, err := ic(ctx, "req", info, h); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if fa.seen != "Bearer abc" {
		t.Fatalf("authenticator saw %q", fa.seen)
	}
}

func TestAuthUnary_Rejects(t *testing.T) {
	t.Parallel()

	info := &grpc.UnaryServerInfo{FullMethod: "/tvk.Test/Private"}
	h := func(ctx context.Context, req any) (any, error) {
		t.Errorf("handler must not run")
		return nil, nil
	}

	cases := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"unauthenticated", errs.ErrUnauthenticated, codes.Unauthenticated},
		{"revoked", errs.ErrRevoked, codes.Unauthenticated},
		{"internal", errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		ic := AuthUnary(&fakeAuth{err: tc.err}, zaptest.NewLogger(t))
		_, err := ic(context.Background(), "req", info, h)
		if status.Code(err) != tc.want {
			t.Fatalf("%s: want %v, got %v", tc.name, tc.want, err)
		}
	}

	// revoked and unauthenticated are indistinguishable to the caller
	_, e1 := AuthUnary(&fakeAuth{err: errs.ErrUnauthenticated}, zaptest.NewLogger(t))(context.Background(), nil, info, h)
	_, e2 := AuthUnary(&fakeAuth{err: errs.ErrRevoked}, zaptest.NewLogger(t))(context.Background(), nil, info, h)
	if e1.Error() != e2.Error() {
		t.Fatalf("messages differ: %q vs %q", e1, e2)
	}
}

func TestAuthUnary_PublicMethodsSkipAuth(t *testing.T) {
	t.Parallel()

	fa := &fakeAuth{err: errs.ErrUnauthenticated}
	ic := AuthUnary(fa, zaptest.NewLogger(t), "/tvk.Test/Open")
	h := func(ctx context.Context, req any) (any, error) { return "ok", nil }

	for _, m := range []string{"/grpc.health.v1.Health/Check", "/tvk.Test/Open"} {
		if _, err := ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: m}, h); err != nil {
			t.Fatalf("%s: unexpected err: %v", m, err)
		}
	}
	if fa.calls != 0 {
		t.Fatalf("authenticator called for public methods")
	}
}
