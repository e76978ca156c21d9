// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package translate

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"nlcube/cli/internal/config"
	nerrors "nlcube/cli/internal/errors"
)

// Messages are google.protobuf.Struct values so a sidecar in any language
// can serve the method without generated stubs:
//
//	request  {"question": string, "schema": string}
//	response {"text": string}
const (
	grpcServiceName     = "nlcube.translate.v1.Translator"
	grpcTranslateMethod = "/" + grpcServiceName + "/Translate"
)

func init() {
	Register("grpc", func(cfg config.TranslatorConfig) (Translator, error) {
		return NewGRPC(cfg)
	})
}

// GRPC forwards requests to a local model process.
type GRPC struct {
	conn *grpc.ClientConn
}

// NewGRPC connects lazily to cfg.Endpoint (host:port or a unix:// target).
func NewGRPC(cfg config.TranslatorConfig, opts ...grpc.DialOption) (*GRPC, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required for the grpc backend")
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, err
	}
	return &GRPC{conn: conn}, nil
}

func (g *GRPC) Name() string { return "grpc" }

func (g *GRPC) Translate(ctx context.Context, req Request) (Response, error) {
	in, err := structpb.NewStruct(map[string]any{
		"question": req.Question,
		"schema":   req.SchemaText,
	})
	if err != nil {
		return Response{}, nerrors.Wrap(nerrors.Internal, "encode grpc request", err)
	}
	out := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, grpcTranslateMethod, in, out); err != nil {
		if status.Code(err) == codes.DeadlineExceeded {
			err = errors.Join(context.DeadlineExceeded, err)
		}
		return Response{}, unavailable(g.Name(), err)
	}
	text, ok := out.GetFields()["text"]
	if !ok {
		raw, _ := out.MarshalJSON()
		return Response{}, nerrors.New(nerrors.MalformedResponse, "grpc response has no text field").WithRaw(string(raw))
	}
	return Response{Text: text.GetStringValue()}, nil
}

// Close releases the client connection.
func (g *GRPC) Close() error { return g.conn.Close() }

// RegisterTranslatorServer serves t as nlcube.translate.v1.Translator on s.
func RegisterTranslatorServer(s grpc.ServiceRegistrar, t Translator) {
	s.RegisterService(&translatorServiceDesc, t)
}

var translatorServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*Translator)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Translate", Handler: translateHandler},
	},
	Metadata: "nlcube/translate/v1/translator.proto",
}

func translateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := &structpb.Struct{}
	if err := dec(in); err != nil {
		return nil, err
	}
	handle := func(ctx context.Context, req any) (any, error) {
		fields := req.(*structpb.Struct).GetFields()
		resp, err := srv.(Translator).Translate(ctx, Request{
			Question:   fields["question"].GetStringValue(),
			SchemaText: fields["schema"].GetStringValue(),
		})
		if err != nil {
			return nil, status.Error(grpcCode(err), err.Error())
		}
		return structpb.NewStruct(map[string]any{"text": resp.Text})
	}
	if interceptor == nil {
		return handle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: grpcTranslateMethod}
	return interceptor(ctx, in, info, handle)
}

func grpcCode(err error) codes.Code {
	switch nerrors.KindOf(err) {
	case nerrors.TranslationUnavailable:
		return codes.Unavailable
	case nerrors.InvalidQuestion:
		return codes.InvalidArgument
	case nerrors.Canceled:
		return codes.Canceled
	}
	return codes.Internal
}
