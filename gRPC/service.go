package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// 服务只使用 protobuf 的 well-known 类型，不需要额外的 .proto 生成代码：
//
//	service Recognizer {
//	  rpc Recognize(google.protobuf.BytesValue) returns (google.protobuf.ListValue);
//	  rpc Status(google.protobuf.Empty) returns (google.protobuf.StringValue);
//	}
const (
	ServiceName                         = "glyphnet.Recognizer"
	Recognizer_Recognize_FullMethodName = "/glyphnet.Recognizer/Recognize"
	Recognizer_Status_FullMethodName    = "/glyphnet.Recognizer/Status"
)

type RecognizerServer interface {
	Recognize(context.Context, *wrapperspb.BytesValue) (*structpb.ListValue, error)
	Status(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
}

func RegisterRecognizerServer(s grpc.ServiceRegistrar, srv RecognizerServer) {
	s.RegisterService(&Recognizer_ServiceDesc, srv)
}

func _Recognizer_Recognize_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RecognizerServer).Recognize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Recognizer_Recognize_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RecognizerServer).Recognize(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Recognizer_Status_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RecognizerServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Recognizer_Status_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RecognizerServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var Recognizer_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RecognizerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Recognize",
			Handler:    _Recognizer_Recognize_Handler,
		},
		{
			MethodName: "Status",
			Handler:    _Recognizer_Status_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "glyphnet/recognizer.proto",
}

type RecognizerClient interface {
	Recognize(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.ListValue, error)
	Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
}

type recognizerClient struct {
	cc grpc.ClientConnInterface
}

func NewRecognizerClient(cc grpc.ClientConnInterface) RecognizerClient {
	return &recognizerClient{cc}
}

func (c *recognizerClient) Recognize(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, Recognizer_Recognize_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *recognizerClient) Status(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, Recognizer_Status_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
