// Package viewsapi describes the Canary Views gRPC API: its messages, methods
// and the session field stamped into requests. The descriptors are assembled
// in code and registered with the global registry at init; messages are
// dynamicpb messages.
package viewsapi

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
	_ "google.golang.org/protobuf/types/known/durationpb"
	_ "google.golang.org/protobuf/types/known/emptypb"
	_ "google.golang.org/protobuf/types/known/timestamppb"
)

const (
	FileName    = "canary/views/grpc/api/canary_views_api_service.proto"
	Package     = "canary.views.grpc.api"
	ServiceName = Package + ".CanaryViewsApiService"

	// Variant and GrpcTvq live in a package shared with other Canary services.
	SharedFileName = "canary/utility/protobuf_shared_types/protobuf_shared_types.proto"
	SharedPackage  = "canary.utility.protobuf_shared_types"

	// SessionField is the request field carrying the client connection id.
	SessionField = "cci"

	// TokenHeader is the metadata key the api token travels under.
	TokenHeader = "canary-api-token"

	emptyType     = ".google.protobuf.Empty"
	timestampType = ".google.protobuf.Timestamp"
	durationType  = ".google.protobuf.Duration"
)

// Quality filters for GetTagCurrentValue.
const (
	QualityAny    int32 = 0
	QualityNonBad int32 = 1
	QualityGood   int32 = 2
)

type kind = descriptorpb.FieldDescriptorProto_Type

const (
	tBool   = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	tInt32  = descriptorpb.FieldDescriptorProto_TYPE_INT32
	tInt64  = descriptorpb.FieldDescriptorProto_TYPE_INT64
	tUint32 = descriptorpb.FieldDescriptorProto_TYPE_UINT32
	tUint64 = descriptorpb.FieldDescriptorProto_TYPE_UINT64
	tFloat  = descriptorpb.FieldDescriptorProto_TYPE_FLOAT
	tDouble = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	tString = descriptorpb.FieldDescriptorProto_TYPE_STRING
	tBytes  = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	tMsg    = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
)

type fieldSpec struct {
	name     string
	num      int32
	typ      kind
	typeName string
	repeated bool
	oneof    *int32
}

func f(name string, num int32, typ kind) fieldSpec { return fieldSpec{name: name, num: num, typ: typ} }

func msg(name string, num int32, typeName string) fieldSpec {
	return fieldSpec{name: name, num: num, typ: tMsg, typeName: typeName}
}

func (s fieldSpec) list() fieldSpec { s.repeated = true; return s }

func (s fieldSpec) in(oneof int32) fieldSpec { s.oneof = proto.Int32(oneof); return s }

func message(name string, fields ...fieldSpec) *descriptorpb.DescriptorProto {
	m := &descriptorpb.DescriptorProto{Name: proto.String(name)}
	for _, s := range fields {
		label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
		if s.repeated {
			label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
		}
		fd := &descriptorpb.FieldDescriptorProto{
			Name:       proto.String(s.name),
			Number:     proto.Int32(s.num),
			Label:      label.Enum(),
			Type:       s.typ.Enum(),
			OneofIndex: s.oneof,
		}
		if s.typeName != "" {
			fd.TypeName = proto.String(s.typeName)
		}
		m.Field = append(m.Field, fd)
	}
	return m
}

func local(name string) string { return "." + Package + "." + name }

func shared(name string) string { return "." + SharedPackage + "." + name }

func method(name, in, out string, serverStreaming bool) *descriptorpb.MethodDescriptorProto {
	m := &descriptorpb.MethodDescriptorProto{
		Name:       proto.String(name),
		InputType:  proto.String(in),
		OutputType: proto.String(out),
	}
	if serverStreaming {
		m.ServerStreaming = proto.Bool(true)
	}
	return m
}

func unary(name string) *descriptorpb.MethodDescriptorProto {
	return method(name, local(name+"Request"), local(name+"Response"), false)
}

func sharedFileDescriptorProto() *descriptorpb.FileDescriptorProto {
	// Members follow the declaration order of the served Variant.
	variant := message("Variant",
		f("bool", 1, tBool).in(0),
		f("int8", 2, tInt32).in(0),
		f("int16", 3, tInt32).in(0),
		f("int32", 4, tInt32).in(0),
		f("int64", 5, tInt64).in(0),
		f("uint8", 6, tUint32).in(0),
		f("uint16", 7, tUint32).in(0),
		f("uint32", 8, tUint32).in(0),
		f("uint64", 9, tUint64).in(0),
		f("float", 10, tFloat).in(0),
		f("double", 11, tDouble).in(0),
		f("string", 12, tString).in(0),
		f("decimal", 13, tBytes).in(0),
	)
	variant.OneofDecl = []*descriptorpb.OneofDescriptorProto{{Name: proto.String("kind")}}

	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String(SharedFileName),
		Package:    proto.String(SharedPackage),
		Syntax:     proto.String("proto3"),
		Dependency: []string{"google/protobuf/timestamp.proto"},
		MessageType: []*descriptorpb.DescriptorProto{
			variant,
			message("GrpcTvq",
				msg("timestamp", 1, timestampType),
				msg("value", 2, shared("Variant")),
				f("quality", 3, tInt32),
			),
		},
	}
}

func fileDescriptorProto() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String(FileName),
		Package: proto.String(Package),
		Syntax:  proto.String("proto3"),
		Dependency: []string{
			"google/protobuf/empty.proto", "google/protobuf/timestamp.proto",
			"google/protobuf/duration.proto", SharedFileName,
		},
		MessageType: []*descriptorpb.DescriptorProto{
			message("GetClientConnectionIdRequest", f("app", 1, tString), f("user_id", 2, tString)),
			message("GetClientConnectionIdResponse", f("cci", 1, tInt32)),
			message("ReleaseClientConnectionIdRequest", f("cci", 1, tInt32)),
			message("ReleaseClientConnectionIdResponse"),
			message("KeepaliveClientConnectionIdRequest", f("cci", 1, tInt32)),
			message("KeepaliveClientConnectionIdResponse"),

			message("GetWebServiceVersionResponse", f("version", 1, tString)),

			message("GetViewsRequest", f("cci", 1, tInt32)),
			message("GetViewsResponse", f("views", 1, tString).list()),

			message("GetDataSetListRequest",
				f("view", 1, tString), f("include_hidden", 2, tBool), f("cci", 3, tInt32)),
			message("GetDataSetListResponse", f("datasets", 1, tString).list()),

			message("GetDatasetInfoRequest",
				f("view", 1, tString), f("dataset_name", 2, tString), f("cci", 3, tInt32)),
			message("GetDatasetInfoResponse",
				f("prop_name", 1, tString).list(), f("prop_value", 2, tString).list()),

			message("GetTagListRequest",
				f("view", 1, tString), f("dataset_name", 2, tString),
				f("starting_offset", 3, tInt32), f("max_count", 4, tInt32), f("cci", 5, tInt32)),
			message("GetTagListResponse", f("tag_names", 1, tString).list()),

			message("GetTagInfoRequest",
				f("view", 1, tString), f("tag_names", 2, tString).list(), f("cci", 3, tInt32)),
			message("TagProperty",
				f("prop_name", 1, tString), f("prop_value", 2, tString),
				f("data_type", 3, tString), f("prop_description", 4, tString)),
			message("TagInfo",
				f("tag_item_id", 1, tString), f("item_type", 2, tInt32), f("flags", 3, tInt32),
				msg("tag_properties", 4, local("TagProperty")).list()),
			message("GetTagInfoResponse", msg("tag_infos", 1, local("TagInfo")).list()),

			message("GetTagDataContextRequest",
				f("view", 1, tString), f("tag_names", 2, tString).list(), f("cci", 3, tInt32)),
			// latest_quailty is spelled as served.
			message("TagDataContext",
				f("tag_item_id", 1, tString),
				msg("oldest_timestamp", 2, timestampType), msg("latest_timestamp", 3, timestampType),
				f("latest_value_data_type", 4, tString), f("latest_value", 5, tString),
				f("latest_quailty", 6, tInt32)),
			message("GetTagDataContextResponse", msg("contexts", 1, local("TagDataContext")).list()),

			message("GetTagCurrentValueRequest",
				f("view", 1, tString), f("tag_names", 2, tString).list(),
				f("quality", 3, tInt32), f("cci", 4, tInt32)),
			message("TagValue",
				f("tag_item_id", 1, tString), msg("timestamp", 2, timestampType),
				msg("value", 3, shared("Variant")), f("quality", 4, tInt32)),
			message("GetTagCurrentValueResponse", msg("tag_values", 1, local("TagValue")).list()),

			message("RawTagRequest",
				f("tag_name", 1, tString),
				msg("start_time", 2, timestampType), msg("end_time", 3, timestampType)),
			message("GetRawDataRequest",
				f("view", 1, tString), msg("requests", 2, local("RawTagRequest")).list(),
				f("max_count_per_tag", 3, tInt32), f("return_bounds", 4, tBool), f("cci", 5, tInt32)),
			message("RawTagData", f("tag_name", 1, tString), msg("tvqs", 2, shared("GrpcTvq")).list()),
			message("GetRawDataResponse", msg("raw_data", 1, local("RawTagData")).list()),

			message("AggregateInfo", f("aggregate_name", 1, tString), f("aggregate_description", 2, tString)),
			message("GetAggregateListResponse", msg("aggregates", 1, local("AggregateInfo")).list()),

			message("AggregateTagRequest",
				f("tag_name", 1, tString), f("aggregate_name", 2, tString),
				f("sloped", 4, tBool), f("client_data", 5, tInt32)),
			message("GetAggregateDataRequest",
				f("view", 1, tString), msg("requests", 2, local("AggregateTagRequest")).list(),
				msg("start_time", 3, timestampType), msg("end_time", 4, timestampType),
				msg("interval", 5, durationType), f("return_annotations", 6, tBool), f("cci", 7, tInt32)),
			message("AggregateTagData", f("tag_name", 1, tString), msg("tvqs", 2, shared("GrpcTvq")).list()),
			message("GetAggregateDataResponse", msg("aggregated_data", 1, local("AggregateTagData")).list()),

			message("GetTagStatisticsRequest",
				f("view_name", 1, tString), f("tag_id", 2, tString),
				msg("start_time", 3, timestampType), msg("end_time", 4, timestampType),
				msg("interval", 5, durationType), f("aggregate_name", 6, tString),
				f("include_std_dev", 7, tBool), f("include_percentiles", 8, tBool), f("cci", 9, tInt32)),
			message("GetTagStatisticsResponse",
				f("total_samples", 1, tInt64), f("valid_samples", 2, tInt64),
				f("sum", 3, tDouble), f("mean", 4, tDouble),
				f("minimum", 5, tDouble), f("maximum", 6, tDouble), f("standard_dev", 7, tDouble),
				f("percent_25", 8, tDouble), f("percent_50", 9, tDouble), f("percent_75", 10, tDouble)),

			message("SubscribeToLiveDataRequest",
				f("view", 1, tString), f("tag_names", 2, tString).list(), f("cci", 3, tInt32)),
			message("SubscribeToLiveDataResponse",
				f("tag_name", 1, tString), msg("tvqs", 2, shared("GrpcTvq")).list()),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("CanaryViewsApiService"),
			Method: []*descriptorpb.MethodDescriptorProto{
				unary("GetClientConnectionId"),
				unary("ReleaseClientConnectionId"),
				unary("KeepaliveClientConnectionId"),
				method("Test", emptyType, emptyType, false),
				method("GetWebServiceVersion", emptyType, local("GetWebServiceVersionResponse"), false),
				unary("GetViews"),
				unary("GetDataSetList"),
				unary("GetDatasetInfo"),
				unary("GetTagList"),
				unary("GetTagInfo"),
				unary("GetTagDataContext"),
				unary("GetTagCurrentValue"),
				unary("GetRawData"),
				method("GetAggregateList", emptyType, local("GetAggregateListResponse"), false),
				unary("GetAggregateData"),
				unary("GetTagStatistics"),
				method("SubscribeToLiveData", local("SubscribeToLiveDataRequest"), local("SubscribeToLiveDataResponse"), true),
			},
		}},
	}
}

var file, sharedFile protoreflect.FileDescriptor

func register(fdp *descriptorpb.FileDescriptorProto) protoreflect.FileDescriptor {
	fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("viewsapi: build %s: %v", fdp.GetName(), err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("viewsapi: register %s: %v", fdp.GetName(), err))
	}
	return fd
}

func init() {
	sharedFile = register(sharedFileDescriptorProto())
	file = register(fileDescriptorProto())
}

// File returns the registered service file descriptor.
func File() protoreflect.FileDescriptor { return file }

// SharedFile returns the file declaring Variant and GrpcTvq.
func SharedFile() protoreflect.FileDescriptor { return sharedFile }

// Service returns the CanaryViewsApiService descriptor.
func Service() protoreflect.ServiceDescriptor {
	return file.Services().ByName("CanaryViewsApiService")
}

// Descriptor returns the descriptor of a message declared in the service
// file or the shared types file.
func Descriptor(name string) (protoreflect.MessageDescriptor, bool) {
	md := file.Messages().ByName(protoreflect.Name(name))
	if md == nil {
		md = sharedFile.Messages().ByName(protoreflect.Name(name))
	}
	return md, md != nil
}

// New returns an empty message of the named type. It panics on unknown
// names; every name used in this module is declared above.
func New(name string) *dynamicpb.Message {
	md, ok := Descriptor(name)
	if !ok {
		panic("viewsapi: unknown message " + name)
	}
	return dynamicpb.NewMessage(md)
}

// NewFor returns an empty message of the same type as desc.
func NewFor(desc protoreflect.MessageDescriptor) *dynamicpb.Message {
	return dynamicpb.NewMessage(desc)
}
