package viewsapi

import (
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Full method names.
const (
	MethodGetClientConnectionId       = "/" + ServiceName + "/GetClientConnectionId"
	MethodReleaseClientConnectionId   = "/" + ServiceName + "/ReleaseClientConnectionId"
	MethodKeepaliveClientConnectionId = "/" + ServiceName + "/KeepaliveClientConnectionId"
	MethodTest                        = "/" + ServiceName + "/Test"
	MethodGetWebServiceVersion        = "/" + ServiceName + "/GetWebServiceVersion"
	MethodGetViews                    = "/" + ServiceName + "/GetViews"
	MethodGetDataSetList              = "/" + ServiceName + "/GetDataSetList"
	MethodGetDatasetInfo              = "/" + ServiceName + "/GetDatasetInfo"
	MethodGetTagList                  = "/" + ServiceName + "/GetTagList"
	MethodGetTagInfo                  = "/" + ServiceName + "/GetTagInfo"
	MethodGetTagDataContext           = "/" + ServiceName + "/GetTagDataContext"
	MethodGetTagCurrentValue          = "/" + ServiceName + "/GetTagCurrentValue"
	MethodGetRawData                  = "/" + ServiceName + "/GetRawData"
	MethodGetAggregateList            = "/" + ServiceName + "/GetAggregateList"
	MethodGetAggregateData            = "/" + ServiceName + "/GetAggregateData"
	MethodGetTagStatistics            = "/" + ServiceName + "/GetTagStatistics"
	MethodSubscribeToLiveData         = "/" + ServiceName + "/SubscribeToLiveData"
)

// SubscribeStreamDesc describes the server-streaming live data call.
var SubscribeStreamDesc = &grpc.StreamDesc{
	StreamName:    "SubscribeToLiveData",
	ServerStreams: true,
}

// SessionFieldOf returns the int32 session field of md, or nil when the
// message has none.
func SessionFieldOf(md protoreflect.MessageDescriptor) protoreflect.FieldDescriptor {
	fd := md.Fields().ByName(SessionField)
	if fd == nil || fd.Kind() != protoreflect.Int32Kind || fd.IsList() {
		return nil
	}
	return fd
}

// StampSession returns msg with its session field set to cci. When the field
// exists msg is cloned first, so the caller's value is left untouched.
// Messages without the field are returned as is.
func StampSession(msg any, cci int32) any {
	pm, ok := msg.(proto.Message)
	if !ok {
		return msg
	}
	fd := SessionFieldOf(pm.ProtoReflect().Descriptor())
	if fd == nil {
		return msg
	}
	out := proto.Clone(pm)
	out.ProtoReflect().Set(fd, protoreflect.ValueOfInt32(cci))
	return out
}

// Session reads the session field of msg; ok is false when there is none.
func Session(msg proto.Message) (int32, bool) {
	fd := SessionFieldOf(msg.ProtoReflect().Descriptor())
	if fd == nil {
		return 0, false
	}
	return int32(msg.ProtoReflect().Get(fd).Int()), true
}
