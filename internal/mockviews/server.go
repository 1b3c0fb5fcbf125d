// Package mockviews is an in-memory Canary Views service for development and
// tests. It issues client connection ids, checks the api token and answers
// catalog and history queries from a Catalog.
package mockviews

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/huntermatuse/crowsong/internal/errs"
	"github.com/huntermatuse/crowsong/internal/viewsapi"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Call is a request as received by a handler.
type Call struct {
	Method  string
	Request proto.Message
	Token   string
}

// Client is a registered client connection.
type Client struct {
	App    string
	UserID string
}

// Server implements the views service.
type Server struct {
	log *zap.Logger

	mu      sync.Mutex
	catalog Catalog
	nextID  int32
	clients map[int32]Client
	calls   []Call
	subs    map[chan liveUpdate]subscription

	done      chan struct{}
	closeOnce sync.Once
}

// Service is the contract registered with grpc.
type Service interface {
	Clients() map[int32]Client
}

var _ Service = (*Server)(nil)

// New returns a server answering from catalog.
func New(catalog Catalog, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		log:     log,
		catalog: catalog,
		clients: make(map[int32]Client),
		subs:    make(map[chan liveUpdate]subscription),
		done:    make(chan struct{}),
	}
}

// NewGRPCServer builds a grpc.Server with s registered behind logging,
// panic recovery and token checks.
func NewGRPCServer(s *Server, auth Auth, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(RecoverUnary(s.log), LoggingUnary(s.log), AuthUnary(auth)),
		grpc.ChainStreamInterceptor(LoggingStream(s.log), AuthStream(auth)),
	}, opts...)
	gs := grpc.NewServer(opts...)
	s.Register(gs)
	return gs
}

// Register adds the service to r.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(s.serviceDesc(), s)
}

// Clients returns a snapshot of the registered client connections.
func (s *Server) Clients() map[int32]Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int32]Client, len(s.clients))
	for k, v := range s.clients {
		out[k] = v
	}
	return out
}

// Calls returns every request received so far, oldest first.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Server) record(ctx context.Context, method string, req proto.Message) {
	var tok string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(viewsapi.TokenHeader); len(v) > 0 {
			tok = v[0]
		}
	}
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: method, Request: proto.Clone(req), Token: tok})
	s.mu.Unlock()
}

// toStatus maps domain errors to gRPC codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case isStatus(err):
		return err
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, err.Error())
	default:
		return status.Errorf(codes.Internal, "%v", err)
	}
}

func isStatus(err error) bool {
	_, ok := status.FromError(err)
	return ok
}

// client checks the session field of req against the registry.
func (s *Server) client(req proto.Message) error {
	cci, ok := viewsapi.Session(req)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[cci]; !ok {
		return fmt.Errorf("cci %d: %w", cci, errs.ErrNotFound)
	}
	return nil
}

type unaryFunc func(ctx context.Context, req proto.Message) (proto.Message, error)

func (s *Server) unary(name, reqType string, fn unaryFunc) grpc.MethodDesc {
	full := "/" + viewsapi.ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(_ any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			var in proto.Message = &emptypb.Empty{}
			if reqType != "" {
				in = viewsapi.New(reqType)
			}
			if err := dec(in); err != nil {
				return nil, err
			}
			h := func(ctx context.Context, req any) (any, error) {
				m := req.(proto.Message)
				s.record(ctx, full, m)
				if err := s.client(m); err != nil {
					return nil, toStatus(err)
				}
				resp, err := fn(ctx, m)
				return resp, toStatus(err)
			}
			if ic == nil {
				return h(ctx, in)
			}
			return ic(ctx, in, &grpc.UnaryServerInfo{Server: s, FullMethod: full}, h)
		},
	}
}

func (s *Server) serviceDesc() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: viewsapi.ServiceName,
		HandlerType: (*Service)(nil),
		Methods: []grpc.MethodDesc{
			s.unary("GetClientConnectionId", "GetClientConnectionIdRequest", s.getClientConnectionID),
			s.unary("ReleaseClientConnectionId", "ReleaseClientConnectionIdRequest", s.release),
			s.unary("KeepaliveClientConnectionId", "KeepaliveClientConnectionIdRequest", s.keepalive),
			s.unary("Test", "", s.test),
			s.unary("GetWebServiceVersion", "", s.version),
			s.unary("GetViews", "GetViewsRequest", s.views),
			s.unary("GetDataSetList", "GetDataSetListRequest", s.dataSets),
			s.unary("GetDatasetInfo", "GetDatasetInfoRequest", s.datasetInfo),
			s.unary("GetTagList", "GetTagListRequest", s.tags),
			s.unary("GetTagInfo", "GetTagInfoRequest", s.tagInfo),
			s.unary("GetTagDataContext", "GetTagDataContextRequest", s.dataContext),
			s.unary("GetTagCurrentValue", "GetTagCurrentValueRequest", s.currentValues),
			s.unary("GetRawData", "GetRawDataRequest", s.rawData),
			s.unary("GetAggregateList", "", s.aggregateList),
			s.unary("GetAggregateData", "GetAggregateDataRequest", s.aggregateData),
			s.unary("GetTagStatistics", "GetTagStatisticsRequest", s.tagStatistics),
		},
		Streams: []grpc.StreamDesc{{
			StreamName:    "SubscribeToLiveData",
			ServerStreams: true,
			Handler:       s.subscribe,
		}},
		Metadata: viewsapi.FileName,
	}
}

// --- Client connections ---

func (s *Server) getClientConnectionID(_ context.Context, req proto.Message) (proto.Message, error) {
	c := Client{App: viewsapi.GetString(req, "app"), UserID: viewsapi.GetString(req, "user_id")}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.clients[id] = c
	s.mu.Unlock()

	s.log.Info("client connected", zap.Int32("cci", id), zap.String("app", c.App), zap.String("user", c.UserID))
	resp := viewsapi.New("GetClientConnectionIdResponse")
	viewsapi.SetInt32(resp, "cci", id)
	return resp, nil
}

func (s *Server) release(_ context.Context, req proto.Message) (proto.Message, error) {
	cci, _ := viewsapi.Session(req)
	s.mu.Lock()
	delete(s.clients, cci)
	s.mu.Unlock()
	s.log.Info("client released", zap.Int32("cci", cci))
	return viewsapi.New("ReleaseClientConnectionIdResponse"), nil
}

func (s *Server) keepalive(context.Context, proto.Message) (proto.Message, error) {
	return viewsapi.New("KeepaliveClientConnectionIdResponse"), nil
}

// --- Catalog ---

func (s *Server) test(context.Context, proto.Message) (proto.Message, error) {
	return &emptypb.Empty{}, nil
}

func (s *Server) version(context.Context, proto.Message) (proto.Message, error) {
	s.mu.Lock()
	v := s.catalog.Version
	s.mu.Unlock()
	resp := viewsapi.New("GetWebServiceVersionResponse")
	viewsapi.SetString(resp, "version", v)
	return resp, nil
}

func (s *Server) views(context.Context, proto.Message) (proto.Message, error) {
	s.mu.Lock()
	names := s.catalog.viewNames()
	s.mu.Unlock()
	resp := viewsapi.New("GetViewsResponse")
	viewsapi.AppendStrings(resp, "views", names...)
	return resp, nil
}

func (s *Server) dataSets(_ context.Context, req proto.Message) (proto.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.catalog.view(viewsapi.GetString(req, "view"))
	if err != nil {
		return nil, err
	}
	resp := viewsapi.New("GetDataSetListResponse")
	viewsapi.AppendStrings(resp, "datasets", v.dataSetNames(viewsapi.GetBool(req, "include_hidden"))...)
	return resp, nil
}

func (s *Server) tags(_ context.Context, req proto.Message) (proto.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.catalog.view(viewsapi.GetString(req, "view"))
	if err != nil {
		return nil, err
	}
	ds, err := v.dataSet(viewsapi.GetString(req, "dataset_name"))
	if err != nil {
		return nil, err
	}
	resp := viewsapi.New("GetTagListResponse")
	names := ds.tagNames(viewsapi.GetInt32(req, "starting_offset"), viewsapi.GetInt32(req, "max_count"))
	viewsapi.AppendStrings(resp, "tag_names", names...)
	return resp, nil
}

func (s *Server) datasetInfo(_ context.Context, req proto.Message) (proto.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.catalog.view(viewsapi.GetString(req, "view"))
	if err != nil {
		return nil, err
	}
	ds, err := v.dataSet(viewsapi.GetString(req, "dataset_name"))
	if err != nil {
		return nil, err
	}
	resp := viewsapi.New("GetDatasetInfoResponse")
	viewsapi.AppendStrings(resp, "prop_name", "Name", "Hidden", "TagCount")
	viewsapi.AppendStrings(resp, "prop_value", ds.Name, strconv.FormatBool(ds.Hidden), strconv.Itoa(len(ds.Tags)))
	return resp, nil
}

func (s *Server) tagInfo(_ context.Context, req proto.Message) (proto.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.catalog.view(viewsapi.GetString(req, "view"))
	if err != nil {
		return nil, err
	}
	resp := viewsapi.New("GetTagInfoResponse")
	for _, name := range viewsapi.Strings(req, "tag_names") {
		t, err := v.tag(name)
		if err != nil {
			return nil, err
		}
		info := viewsapi.New("TagInfo")
		viewsapi.SetString(info, "tag_item_id", t.Name)
		viewsapi.SetInt32(info, "item_type", 1)
		for _, p := range t.properties() {
			prop := viewsapi.New("TagProperty")
			viewsapi.SetString(prop, "prop_name", p.name)
			viewsapi.SetString(prop, "prop_value", p.value)
			viewsapi.SetString(prop, "data_type", p.dataType)
			viewsapi.SetString(prop, "prop_description", p.description)
			viewsapi.AppendMessage(info, "tag_properties", prop)
		}
		viewsapi.AppendMessage(resp, "tag_infos", info)
	}
	return resp, nil
}

// dataContext reports the first and last stored sample of each tag. Tags
// without samples get a context with only the id.
func (s *Server) dataContext(_ context.Context, req proto.Message) (proto.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.catalog.view(viewsapi.GetString(req, "view"))
	if err != nil {
		return nil, err
	}
	resp := viewsapi.New("GetTagDataContextResponse")
	for _, name := range viewsapi.Strings(req, "tag_names") {
		t, err := v.tag(name)
		if err != nil {
			return nil, err
		}
		c := viewsapi.New("TagDataContext")
		viewsapi.SetString(c, "tag_item_id", t.Name)
		if p, ok := t.oldest(); ok {
			viewsapi.SetTimestamp(c, "oldest_timestamp", p.Seconds, p.Nanos)
		}
		if p, ok := t.latest(); ok {
			viewsapi.SetTimestamp(c, "latest_timestamp", p.Seconds, p.Nanos)
			viewsapi.SetString(c, "latest_value_data_type", dataTypeName(p.Value))
			viewsapi.SetString(c, "latest_value", fmt.Sprint(p.Value))
			viewsapi.SetInt32(c, "latest_quailty", p.Quality)
		}
		viewsapi.AppendMessage(resp, "contexts", c)
	}
	return resp, nil
}

// --- History ---

func (s *Server) currentValues(_ context.Context, req proto.Message) (proto.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.catalog.view(viewsapi.GetString(req, "view"))
	if err != nil {
		return nil, err
	}
	filter := viewsapi.GetInt32(req, "quality")
	resp := viewsapi.New("GetTagCurrentValueResponse")
	for _, name := range viewsapi.Strings(req, "tag_names") {
		t, err := v.tag(name)
		if err != nil {
			return nil, err
		}
		// Newest sample that passes the quality filter.
		for i := len(t.Points) - 1; i >= 0; i-- {
			p := t.Points[i]
			if !passes(filter, p.Quality) {
				continue
			}
			tv := viewsapi.New("TagValue")
			viewsapi.SetString(tv, "tag_item_id", t.Name)
			viewsapi.SetTimestamp(tv, "timestamp", p.Seconds, p.Nanos)
			viewsapi.SetMessage(tv, "value", variant(p.Value))
			viewsapi.SetInt32(tv, "quality", p.Quality)
			viewsapi.AppendMessage(resp, "tag_values", tv)
			break
		}
	}
	return resp, nil
}

func (s *Server) rawData(_ context.Context, req proto.Message) (proto.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.catalog.view(viewsapi.GetString(req, "view"))
	if err != nil {
		return nil, err
	}
	limit := viewsapi.GetInt32(req, "max_count_per_tag")
	bounds := viewsapi.GetBool(req, "return_bounds")

	resp := viewsapi.New("GetRawDataResponse")
	for _, r := range viewsapi.Messages(req, "requests") {
		tr := r.Interface()
		t, err := v.tag(viewsapi.GetString(tr, "tag_name"))
		if err != nil {
			return nil, err
		}
		startSec, startNanos, _ := viewsapi.Timestamp(viewsapi.GetMessage(tr, "start_time"))
		endSec, endNanos, ok := viewsapi.Timestamp(viewsapi.GetMessage(tr, "end_time"))
		if !ok {
			return nil, status.Error(codes.InvalidArgument, "end_time required")
		}
		data := viewsapi.New("RawTagData")
		viewsapi.SetString(data, "tag_name", t.Name)
		for _, p := range t.span(startSec, startNanos, endSec, endNanos, bounds, limit) {
			viewsapi.AppendMessage(data, "tvqs", tvq(p))
		}
		viewsapi.AppendMessage(resp, "raw_data", data)
	}
	return resp, nil
}

func tvq(p Point) proto.Message {
	m := viewsapi.New("GrpcTvq")
	viewsapi.SetTimestamp(m, "timestamp", p.Seconds, p.Nanos)
	viewsapi.SetMessage(m, "value", variant(p.Value))
	viewsapi.SetInt32(m, "quality", p.Quality)
	return m
}

// variant wraps a Go scalar. Unsupported types produce an empty variant.
func variant(v any) proto.Message {
	m := viewsapi.New("Variant")
	switch x := v.(type) {
	case bool:
		viewsapi.SetValue(m, "bool", protoreflect.ValueOfBool(x))
	case int8:
		viewsapi.SetValue(m, "int8", protoreflect.ValueOfInt32(int32(x)))
	case int16:
		viewsapi.SetValue(m, "int16", protoreflect.ValueOfInt32(int32(x)))
	case uint8:
		viewsapi.SetValue(m, "uint8", protoreflect.ValueOfUint32(uint32(x)))
	case uint16:
		viewsapi.SetValue(m, "uint16", protoreflect.ValueOfUint32(uint32(x)))
	case int32:
		viewsapi.SetValue(m, "int32", protoreflect.ValueOfInt32(x))
	case int64:
		viewsapi.SetValue(m, "int64", protoreflect.ValueOfInt64(x))
	case uint32:
		viewsapi.SetValue(m, "uint32", protoreflect.ValueOfUint32(x))
	case uint64:
		viewsapi.SetValue(m, "uint64", protoreflect.ValueOfUint64(x))
	case float32:
		viewsapi.SetValue(m, "float", protoreflect.ValueOfFloat32(x))
	case float64:
		viewsapi.SetValue(m, "double", protoreflect.ValueOfFloat64(x))
	case string:
		viewsapi.SetValue(m, "string", protoreflect.ValueOfString(x))
	case []byte:
		viewsapi.SetValue(m, "decimal", protoreflect.ValueOfBytes(x))
	}
	return m
}
