package grpcserver

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/tvkeeper/internal/authctx"
	"github.com/and161185/tvkeeper/internal/errs"
	"github.com/and161185/tvkeeper/internal/model"
)

// Full method names of the session service. Neither is public.
const (
	SessionWhoAmIMethod = "/tvkeeper.v1.Session/WhoAmI"
	SessionLogoutMethod = "/tvkeeper.v1.Session/Logout"
)

// SessionAuth is what the session service needs from the auth layer.
type SessionAuth interface {
	Logout(ctx context.Context, header string) error
	CurrentUser(ctx context.Context, id uuid.UUID) (model.User, error)
}

// SessionService is the server side of tvkeeper.v1.Session. Messages are
// protobuf well-known types, so no generated code is involved.
type SessionService interface {
	WhoAmI(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
	Logout(ctx context.Context, in *emptypb.Empty) (*emptypb.Empty, error)
}

type sessionServer struct {
	auth SessionAuth
	log  *zap.Logger
}

// WhoAmI returns {id, email, role, created_at} of the caller.
func (s *sessionServer) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	id, ok := authctx.UserIDFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	u, err := s.auth.CurrentUser(ctx, id)
	if err != nil {
		return nil, s.toStatus(err)
	}
	out, err := structpb.NewStruct(map[string]any{
		"id":         u.ID.String(),
		"email":      u.Email,
		"role":       string(u.Role),
		"created_at": u.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, s.toStatus(err)
	}
	return out, nil
}

// Logout revokes the token the call was authenticated with.
func (s *sessionServer) Logout(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.auth.Logout(ctx, authorization(ctx)); err != nil {
		return nil, s.toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *sessionServer) toStatus(err error) error {
	switch {
	case errors.Is(err, errs.ErrUnauthenticated), errors.Is(err, errs.ErrRevoked):
		return status.Error(codes.Unauthenticated, "authentication required")
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	default:
		s.log.Error("session call failed", zap.Error(err))
		return status.Error(codes.Internal, "internal")
	}
}

func sessionWhoAmIHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionService).WhoAmI(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SessionWhoAmIMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SessionService).WhoAmI(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func sessionLogoutHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionService).Logout(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SessionLogoutMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SessionService).Logout(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var sessionServiceDesc = grpc.ServiceDesc{
	ServiceName: "tvkeeper.v1.Session",
	HandlerType: (*SessionService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "WhoAmI", Handler: sessionWhoAmIHandler},
		{MethodName: "Logout", Handler: sessionLogoutHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterSession registers the session service on s.
func RegisterSession(s grpc.ServiceRegistrar, auth SessionAuth, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	s.RegisterService(&sessionServiceDesc, &sessionServer{auth: auth, log: log})
}
