package api

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/victornm/reflex/internal/domain"
	"github.com/victornm/reflex/internal/errors"
	"github.com/victornm/reflex/internal/session"
)

const GameServiceName = "reflex.v1.GameService"

// GameServiceServer is served over gRPC with well-known message types:
// session IDs travel as StringValue, snapshots and leaderboards as Struct
// shaped like their JSON form.
type GameServiceServer interface {
	CreateSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetSession(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	Tap(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	Restart(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	EndSession(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error)
	GetLeaderboard(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

var gameServiceDesc = grpc.ServiceDesc{
	ServiceName: GameServiceName,
	HandlerType: (*GameServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSession", Handler: unary("CreateSession", GameServiceServer.CreateSession)},
		{MethodName: "GetSession", Handler: unary("GetSession", GameServiceServer.GetSession)},
		{MethodName: "Tap", Handler: unary("Tap", GameServiceServer.Tap)},
		{MethodName: "Restart", Handler: unary("Restart", GameServiceServer.Restart)},
		{MethodName: "EndSession", Handler: unary("EndSession", GameServiceServer.EndSession)},
		{MethodName: "GetLeaderboard", Handler: unary("GetLeaderboard", GameServiceServer.GetLeaderboard)},
	},
	Streams: []grpc.StreamDesc{},
}

func unary[Req, Resp any](method string, call func(GameServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	fullMethod := fmt.Sprintf("/%s/%s", GameServiceName, method)

	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}

		if interceptor == nil {
			return call(srv.(GameServiceServer), ctx, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(GameServiceServer), ctx, req.(*Req))
		}

		return interceptor(ctx, in, info, handler)
	}
}

func (a *API) CreateSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	snap, err := a.ss.CreateSession(ctx, session.CreateSessionRequest{
		Viewport: domain.Viewport{
			Width:  int(fields["width"].GetNumberValue()),
			Height: int(fields["height"].GetNumberValue()),
		},
	})
	if err != nil {
		return nil, err
	}

	return toStruct(toSession(*snap))
}

func (a *API) GetSession(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	snap, err := a.ss.GetSession(ctx, session.GetSessionRequest{
		SessionID: req.GetValue(),
	})
	if err != nil {
		return nil, err
	}

	return toStruct(toSession(*snap))
}

func (a *API) Tap(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	snap, err := a.ss.Tap(ctx, session.TapRequest{
		SessionID: req.GetValue(),
	})
	if err != nil {
		return nil, err
	}

	return toStruct(toSession(*snap))
}

func (a *API) Restart(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	snap, err := a.ss.Restart(ctx, session.RestartRequest{
		SessionID: req.GetValue(),
	})
	if err != nil {
		return nil, err
	}

	return toStruct(toSession(*snap))
}

func (a *API) EndSession(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := a.ss.EndSession(ctx, session.EndSessionRequest{SessionID: req.GetValue()}); err != nil {
		return nil, err
	}

	return &emptypb.Empty{}, nil
}

func (a *API) GetLeaderboard(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	l, err := a.ls.GetLeaderboard(ctx)
	if err != nil {
		return nil, errors.Convert(err)
	}

	return toStruct(toLeaderboard(*l))
}

// toStruct converts a JSON DTO to a Struct with the same fields.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("marshal %T: %w", v, err))
	}

	m := make(map[string]any)
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Internal(fmt.Errorf("unmarshal %T: %w", v, err))
	}

	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("struct %T: %w", v, err))
	}

	return s, nil
}
