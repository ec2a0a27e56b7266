package handler

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-erp-approvals/internal/service"
	"github.com/pesio-ai/be-erp-approvals/pkg/auth"
	"github.com/pesio-ai/be-erp-approvals/pkg/errors"
	"github.com/pesio-ai/be-erp-approvals/pkg/middleware"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "erp.approvals.v1.ApprovalService"

// ApprovalServiceServer is the gRPC surface. Messages are google.protobuf.Struct
// documents carrying the same JSON shapes as the HTTP API.
type ApprovalServiceServer interface {
	Decide(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Inbox(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc registers ApprovalServiceServer on a grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ApprovalServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Decide", Handler: unaryHandler("Decide", ApprovalServiceServer.Decide)},
		{MethodName: "GetRequest", Handler: unaryHandler("GetRequest", ApprovalServiceServer.GetRequest)},
		{MethodName: "Inbox", Handler: unaryHandler("Inbox", ApprovalServiceServer.Inbox)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "erp/approvals/v1/approvals.proto",
}

func unaryHandler(method string, call func(ApprovalServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ApprovalServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ApprovalServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// GRPCHandler implements ApprovalServiceServer
type GRPCHandler struct {
	approvals *service.ApprovalService
	logger    zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(approvals *service.ApprovalService, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		approvals: approvals,
		logger:    logger.With().Str("handler", "grpc").Logger(),
	}
}

// Register attaches the handler to s.
func (h *GRPCHandler) Register(s *grpc.Server) {
	s.RegisterService(&ServiceDesc, h)
}

// userID extracts the authenticated user ID from context, or returns empty string.
func userID(ctx context.Context) string {
	if uc, ok := auth.GetUserContext(ctx); ok {
		return uc.UserID
	}
	return ""
}

// Decide applies an approval decision. Fields: request_id, decision,
// comments, override_evidence, stage.
func (h *GRPCHandler) Decide(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	requestID := fields["request_id"].GetStringValue()

	h.logger.Info().
		Str("request_id", requestID).
		Str("decision", fields["decision"].GetStringValue()).
		Msg("gRPC Decide called")

	res, err := h.approvals.Decide(ctx, requestID, userID(ctx), service.DecideInput{
		Decision:         fields["decision"].GetStringValue(),
		Comments:         fields["comments"].GetStringValue(),
		OverrideEvidence: fields["override_evidence"].GetBoolValue(),
		Stage:            fields["stage"].GetStringValue(),
	})
	if err != nil {
		return nil, h.fail(err)
	}
	return toStruct(toDecideView(res))
}

// GetRequest returns a request with its records. Fields: request_id.
func (h *GRPCHandler) GetRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if userID(ctx) == "" {
		return nil, h.fail(errors.Unauthenticated("authentication required"))
	}
	detail, err := h.approvals.GetRequest(ctx, in.GetFields()["request_id"].GetStringValue())
	if err != nil {
		return nil, h.fail(err)
	}
	return toStruct(toDetailView(detail))
}

// Inbox lists the requests awaiting the caller.
func (h *GRPCHandler) Inbox(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	uid := userID(ctx)
	if uid == "" {
		return nil, h.fail(errors.Unauthenticated("authentication required"))
	}
	reqs, err := h.approvals.Inbox(ctx, uid)
	if err != nil {
		return nil, h.fail(err)
	}
	return toStruct(map[string]any{"requests": toRequestViews(reqs), "total": len(reqs)})
}

func (h *GRPCHandler) fail(err error) error {
	if errors.CodeOf(err) == errors.ErrCodeInternal {
		h.logger.Error().Err(err).Msg("gRPC call failed")
	}
	return mapErrorToGRPC(err)
}

// AuthInterceptor verifies the bearer token in the authorization metadata.
// Methods under the skipped prefixes (health, reflection) need no token.
func AuthInterceptor(parser middleware.TokenParser, skip ...string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		for _, prefix := range skip {
			if strings.HasPrefix(info.FullMethod, prefix) {
				return handler(ctx, req)
			}
		}

		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("authorization"); len(vals) > 0 {
				header = vals[0]
			}
		}
		claims, err := parser.ParseToken(auth.BearerToken(header))
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		ctx = auth.WithUser(ctx, auth.UserContext{
			UserID:     claims.UserID,
			Role:       claims.Role,
			Department: claims.Department,
		})
		return handler(ctx, req)
	}
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return s, nil
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	appErr, ok := errors.As(err)
	if !ok {
		return status.Error(codes.Internal, "internal server error")
	}

	var code codes.Code
	switch appErr.Code {
	case errors.ErrCodeUnauthenticated:
		code = codes.Unauthenticated
	case errors.ErrCodeForbidden:
		code = codes.PermissionDenied
	case errors.ErrCodeNotFound:
		code = codes.NotFound
	case errors.ErrCodeInvalidState:
		code = codes.FailedPrecondition
	case errors.ErrCodeValidation:
		code = codes.InvalidArgument
	default:
		return status.Error(codes.Internal, "internal server error")
	}

	st := status.New(code, appErr.Message)
	if len(appErr.Details) == 0 {
		return st.Err()
	}
	details, err := toStruct(appErr.Details)
	if err != nil {
		return st.Err()
	}
	if withDetails, err := st.WithDetails(details); err == nil {
		return withDetails.Err()
	}
	return st.Err()
}
