package viewsapi

import (
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

func field(m protoreflect.Message, name string) protoreflect.FieldDescriptor {
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		panic("viewsapi: " + string(m.Descriptor().FullName()) + " has no field " + name)
	}
	return fd
}

// SetValue stores a scalar value in the field name of m.
func SetValue(m proto.Message, name string, v protoreflect.Value) {
	r := m.ProtoReflect()
	r.Set(field(r, name), v)
}

func SetString(m proto.Message, name, v string) {
	r := m.ProtoReflect()
	r.Set(field(r, name), protoreflect.ValueOfString(v))
}

func SetInt32(m proto.Message, name string, v int32) {
	r := m.ProtoReflect()
	r.Set(field(r, name), protoreflect.ValueOfInt32(v))
}

func SetBool(m proto.Message, name string, v bool) {
	r := m.ProtoReflect()
	r.Set(field(r, name), protoreflect.ValueOfBool(v))
}

// SetMessage stores v in a singular message field. v must be of the field's
// type.
func SetMessage(m proto.Message, name string, v proto.Message) {
	r := m.ProtoReflect()
	fd := field(r, name)
	r.Set(fd, protoreflect.ValueOfMessage(convert(v, fd.Message())))
}

func AppendStrings(m proto.Message, name string, vs ...string) {
	r := m.ProtoReflect()
	l := r.Mutable(field(r, name)).List()
	for _, v := range vs {
		l.Append(protoreflect.ValueOfString(v))
	}
}

// AppendMessage adds v to a repeated message field.
func AppendMessage(m proto.Message, name string, v proto.Message) {
	r := m.ProtoReflect()
	fd := field(r, name)
	r.Mutable(fd).List().Append(protoreflect.ValueOfMessage(convert(v, fd.Message())))
}

func GetString(m proto.Message, name string) string {
	r := m.ProtoReflect()
	return r.Get(field(r, name)).String()
}

func GetInt32(m proto.Message, name string) int32 {
	r := m.ProtoReflect()
	return int32(r.Get(field(r, name)).Int())
}

func GetInt64(m proto.Message, name string) int64 {
	r := m.ProtoReflect()
	return r.Get(field(r, name)).Int()
}

func GetFloat64(m proto.Message, name string) float64 {
	r := m.ProtoReflect()
	return r.Get(field(r, name)).Float()
}

func GetBool(m proto.Message, name string) bool {
	r := m.ProtoReflect()
	return r.Get(field(r, name)).Bool()
}

func Strings(m proto.Message, name string) []string {
	r := m.ProtoReflect()
	l := r.Get(field(r, name)).List()
	out := make([]string, l.Len())
	for i := range out {
		out[i] = l.Get(i).String()
	}
	return out
}

// GetMessage returns a singular message field, or nil when it is unset.
func GetMessage(m proto.Message, name string) protoreflect.Message {
	r := m.ProtoReflect()
	fd := field(r, name)
	if !r.Has(fd) {
		return nil
	}
	return r.Get(fd).Message()
}

func Messages(m proto.Message, name string) []protoreflect.Message {
	r := m.ProtoReflect()
	l := r.Get(field(r, name)).List()
	out := make([]protoreflect.Message, l.Len())
	for i := range out {
		out[i] = l.Get(i).Message()
	}
	return out
}

// convert checks that v has the type want. Generated and dynamic
// representations of one type are interchangeable as field values.
func convert(v proto.Message, want protoreflect.MessageDescriptor) protoreflect.Message {
	r := v.ProtoReflect()
	if r.Descriptor().FullName() != want.FullName() {
		panic("viewsapi: cannot store " + string(r.Descriptor().FullName()) + " as " + string(want.FullName()))
	}
	return r
}

// SetTimestamp fills the google.protobuf.Timestamp field name of m.
func SetTimestamp(m proto.Message, name string, seconds int64, nanos int32) {
	r := m.ProtoReflect()
	ts := r.Mutable(field(r, name)).Message()
	ts.Set(field(ts, "seconds"), protoreflect.ValueOfInt64(seconds))
	ts.Set(field(ts, "nanos"), protoreflect.ValueOfInt32(nanos))
}

// Timestamp reads a google.protobuf.Timestamp message; ok is false for nil.
func Timestamp(ts protoreflect.Message) (seconds int64, nanos int32, ok bool) {
	if ts == nil || !ts.IsValid() {
		return 0, 0, false
	}
	return ts.Get(field(ts, "seconds")).Int(), int32(ts.Get(field(ts, "nanos")).Int()), true
}

// SetDuration fills the google.protobuf.Duration field name of m.
func SetDuration(m proto.Message, name string, d time.Duration) {
	r := m.ProtoReflect()
	dm := r.Mutable(field(r, name)).Message()
	dm.Set(field(dm, "seconds"), protoreflect.ValueOfInt64(int64(d/time.Second)))
	dm.Set(field(dm, "nanos"), protoreflect.ValueOfInt32(int32(d%time.Second)))
}

// Duration reads a google.protobuf.Duration message; ok is false for nil.
func Duration(dm protoreflect.Message) (time.Duration, bool) {
	if dm == nil || !dm.IsValid() {
		return 0, false
	}
	sec := dm.Get(field(dm, "seconds")).Int()
	nanos := dm.Get(field(dm, "nanos")).Int()
	return time.Duration(sec)*time.Second + time.Duration(nanos), true
}
