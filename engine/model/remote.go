package model

import (
	"context"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/diacheck/diacheck/pkg/resilience"
)

// The remote classifier protocol is a single unary method carrying
// google.protobuf.Struct messages:
//
//	request:  {"features": [float...], "feature_names": [string...]}
//	response: {"probabilities": [float...]}
const (
	classifierService    = "diacheck.model.v1.Classifier"
	predictProbaMethod   = "/" + classifierService + "/PredictProba"
	defaultRemoteTimeout = 5 * time.Second
)

// Remote delegates inference to an out-of-process model server over gRPC.
type Remote struct {
	conn         grpc.ClientConnInterface
	closer       io.Closer
	featureNames []string
	timeout      time.Duration
	breaker      *resilience.Breaker
}

// NewRemote wraps an established connection. closer may be nil.
func NewRemote(conn grpc.ClientConnInterface, closer io.Closer, featureNames []string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &Remote{conn: conn, closer: closer, featureNames: featureNames, timeout: timeout}
}

// SetBreaker guards calls with b. Nil removes the guard.
func (r *Remote) SetBreaker(b *resilience.Breaker) { r.breaker = b }

// RemoteFailure reports whether err means the model server is unreachable
// or overloaded rather than the request being bad.
func RemoteFailure(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	}
	return false
}

// PredictProba implements Classifier.
func (r *Remote) PredictProba(ctx context.Context, x []float64) ([]float64, error) {
	feats := make([]any, len(x))
	for i, v := range x {
		feats[i] = v
	}
	fields := map[string]any{"features": feats}
	if len(r.featureNames) > 0 {
		names := make([]any, len(r.featureNames))
		for i, n := range r.featureNames {
			names[i] = n
		}
		fields["feature_names"] = names
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("remote: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := resilience.Do(ctx, r.breaker, func(ctx context.Context) (*structpb.Struct, error) {
		resp := &structpb.Struct{}
		return resp, r.conn.Invoke(ctx, predictProbaMethod, req, resp)
	})
	if err != nil {
		return nil, fmt.Errorf("remote: %w", err)
	}

	list := resp.GetFields()["probabilities"].GetListValue()
	if list == nil {
		return nil, fmt.Errorf("remote: response has no probabilities")
	}
	out := make([]float64, len(list.GetValues()))
	for i, v := range list.GetValues() {
		if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
			return nil, fmt.Errorf("remote: probability %d is not a number", i)
		}
		out[i] = v.GetNumberValue()
	}
	return out, nil
}

// Close implements Classifier.
func (r *Remote) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// ClassifierServer is implemented by model servers speaking the remote
// classifier protocol.
type ClassifierServer interface {
	PredictProba(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ClassifierServiceDesc registers a ClassifierServer on a grpc.Server.
var ClassifierServiceDesc = grpc.ServiceDesc{
	ServiceName: classifierService,
	HandlerType: (*ClassifierServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PredictProba", Handler: predictProbaHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "diacheck/model/v1/classifier.proto",
}

func predictProbaHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClassifierServer).PredictProba(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: predictProbaMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClassifierServer).PredictProba(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// BundleServer serves a locally loaded bundle over the remote protocol, so a
// bundle can run as a sidecar for another process.
type BundleServer struct {
	Bundle *Bundle
}

// PredictProba implements ClassifierServer.
func (s *BundleServer) PredictProba(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	list := req.GetFields()["features"].GetListValue()
	if list == nil {
		return nil, status.Error(codes.InvalidArgument, "features are required")
	}
	x := make([]float64, len(list.GetValues()))
	for i, v := range list.GetValues() {
		x[i] = v.GetNumberValue()
	}
	probs, err := s.Bundle.PredictProba(ctx, x)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	vals := make([]any, len(probs))
	for i, p := range probs {
		vals[i] = p
	}
	out, err := structpb.NewStruct(map[string]any{"probabilities": vals})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
