package mockviews

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/huntermatuse/crowsong/internal/viewsapi"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
)

const token = "tok"

// startBufGRPC serves a demo server in memory and returns a raw client
// connection. Calls carry no token unless the context adds one.
func startBufGRPC(t *testing.T) (*Harness, *grpc.ClientConn) {
	t.Helper()
	h := ServeInMemory(New(DemoCatalog(), zaptest.NewLogger(t)), Auth{Token: token})
	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return h.Dial(ctx, "", "") }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close(); h.Stop() })
	return h, cc
}

func authed() context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), viewsapi.TokenHeader, token)
}

func call(t *testing.T, cc *grpc.ClientConn, method string, req proto.Message, respType string) (proto.Message, error) {
	t.Helper()
	var resp proto.Message = &emptypb.Empty{}
	if respType != "" {
		resp = viewsapi.New(respType)
	}
	err := cc.Invoke(authed(), method, req, resp)
	return resp, err
}

func register(t *testing.T, cc *grpc.ClientConn) int32 {
	t.Helper()
	req := viewsapi.New("GetClientConnectionIdRequest")
	viewsapi.SetString(req, "app", "test")
	viewsapi.SetString(req, "user_id", "u")
	resp, err := call(t, cc, viewsapi.MethodGetClientConnectionId, req, "GetClientConnectionIdResponse")
	if err != nil {
		t.Fatalf("GetClientConnectionId: %v", err)
	}
	return viewsapi.GetInt32(resp, "cci")
}

func TestClientConnectionLifecycle(t *testing.T) {
	t.Parallel()

	h, cc := startBufGRPC(t)
	a, b := register(t, cc), register(t, cc)
	if a != 1 || b != 2 {
		t.Fatalf("ids should be small and increasing: %d %d", a, b)
	}

	ka := viewsapi.New("KeepaliveClientConnectionIdRequest")
	viewsapi.SetInt32(ka, "cci", a)
	if _, err := call(t, cc, viewsapi.MethodKeepaliveClientConnectionId, ka, "KeepaliveClientConnectionIdResponse"); err != nil {
		t.Fatalf("keepalive: %v", err)
	}

	rel := viewsapi.New("ReleaseClientConnectionIdRequest")
	viewsapi.SetInt32(rel, "cci", a)
	if _, err := call(t, cc, viewsapi.MethodReleaseClientConnectionId, rel, "ReleaseClientConnectionIdResponse"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok := h.Server.Clients()[a]; ok {
		t.Fatalf("released id still registered")
	}

	// A released id is unknown from now on.
	_, err := call(t, cc, viewsapi.MethodKeepaliveClientConnectionId, ka, "KeepaliveClientConnectionIdResponse")
	if status.Code(err) != codes.NotFound {
		t.Fatalf("want NotFound for released id, got %v", err)
	}
}

func TestRejectsMissingToken(t *testing.T) {
	t.Parallel()

	h, cc := startBufGRPC(t)
	err := cc.Invoke(context.Background(), viewsapi.MethodTest, &emptypb.Empty{}, &emptypb.Empty{})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("want Unauthenticated, got %v", err)
	}
	if len(h.Server.Calls()) != 0 {
		t.Fatalf("rejected call must not reach the handler")
	}
}

func TestCatalogQueries(t *testing.T) {
	t.Parallel()

	h, cc := startBufGRPC(t)
	cci := register(t, cc)

	resp, err := call(t, cc, viewsapi.MethodGetWebServiceVersion, &emptypb.Empty{}, "GetWebServiceVersionResponse")
	require.NoError(t, err)
	require.Equal(t, DemoCatalog().Version, viewsapi.GetString(resp, "version"))

	_, err = call(t, cc, viewsapi.MethodTest, &emptypb.Empty{}, "")
	require.NoError(t, err)

	vr := viewsapi.New("GetViewsRequest")
	viewsapi.SetInt32(vr, "cci", cci)
	resp, err = call(t, cc, viewsapi.MethodGetViews, vr, "GetViewsResponse")
	require.NoError(t, err)
	require.Equal(t, []string{"Localhost", "Archive"}, viewsapi.Strings(resp, "views"))

	dr := viewsapi.New("GetDataSetListRequest")
	viewsapi.SetInt32(dr, "cci", cci)
	viewsapi.SetString(dr, "view", "Localhost")
	resp, err = call(t, cc, viewsapi.MethodGetDataSetList, dr, "GetDataSetListResponse")
	require.NoError(t, err)
	require.Equal(t, []string{"Plant"}, viewsapi.Strings(resp, "datasets"))

	viewsapi.SetBool(dr, "include_hidden", true)
	resp, err = call(t, cc, viewsapi.MethodGetDataSetList, dr, "GetDataSetListResponse")
	require.NoError(t, err)
	require.Equal(t, []string{"Plant", "Diagnostics"}, viewsapi.Strings(resp, "datasets"))

	tr := viewsapi.New("GetTagListRequest")
	viewsapi.SetInt32(tr, "cci", cci)
	viewsapi.SetString(tr, "view", "Localhost")
	viewsapi.SetString(tr, "dataset_name", "Plant")
	viewsapi.SetInt32(tr, "starting_offset", 1)
	viewsapi.SetInt32(tr, "max_count", 2)
	resp, err = call(t, cc, viewsapi.MethodGetTagList, tr, "GetTagListResponse")
	require.NoError(t, err)
	require.Equal(t, []string{"Plant.Pressure", "Plant.Running"}, viewsapi.Strings(resp, "tag_names"))

	viewsapi.SetString(dr, "view", "Nowhere")
	_, err = call(t, cc, viewsapi.MethodGetDataSetList, dr, "GetDataSetListResponse")
	require.Equal(t, codes.NotFound, status.Code(err))

	// Every handled call was recorded with its token.
	for _, c := range h.Server.Calls() {
		require.Equal(t, token, c.Token, c.Method)
	}
}

func TestUnknownSessionID(t *testing.T) {
	t.Parallel()

	_, cc := startBufGRPC(t)
	vr := viewsapi.New("GetViewsRequest")
	viewsapi.SetInt32(vr, "cci", 77)
	_, err := call(t, cc, viewsapi.MethodGetViews, vr, "GetViewsResponse")
	require.Equal(t, codes.NotFound, status.Code(err))
}

func rawRequest(cci int32, tag string, start, end int64, bounds bool, limit int32) proto.Message {
	req := viewsapi.New("GetRawDataRequest")
	viewsapi.SetInt32(req, "cci", cci)
	viewsapi.SetString(req, "view", "Localhost")
	viewsapi.SetBool(req, "return_bounds", bounds)
	viewsapi.SetInt32(req, "max_count_per_tag", limit)
	tr := viewsapi.New("RawTagRequest")
	viewsapi.SetString(tr, "tag_name", tag)
	viewsapi.SetTimestamp(tr, "start_time", start, 0)
	viewsapi.SetTimestamp(tr, "end_time", end, 0)
	viewsapi.AppendMessage(req, "requests", tr)
	return req
}

func rawCount(t *testing.T, resp proto.Message) int {
	t.Helper()
	data := viewsapi.Messages(resp, "raw_data")
	require.Len(t, data, 1)
	return len(viewsapi.Messages(data[0].Interface(), "tvqs"))
}

func TestRawData(t *testing.T) {
	t.Parallel()

	_, cc := startBufGRPC(t)
	cci := register(t, cc)

	// Samples at DemoStart + 0..9 minutes; [+2m, +5m) holds three.
	resp, err := call(t, cc, viewsapi.MethodGetRawData,
		rawRequest(cci, "Plant.Temperature", DemoStart+120, DemoStart+300, false, 0), "GetRawDataResponse")
	require.NoError(t, err)
	require.Equal(t, 3, rawCount(t, resp))

	resp, err = call(t, cc, viewsapi.MethodGetRawData,
		rawRequest(cci, "Plant.Temperature", DemoStart+120, DemoStart+300, true, 0), "GetRawDataResponse")
	require.NoError(t, err)
	require.Equal(t, 5, rawCount(t, resp))

	resp, err = call(t, cc, viewsapi.MethodGetRawData,
		rawRequest(cci, "Plant.Temperature", DemoStart, DemoStart+3600, false, 4), "GetRawDataResponse")
	require.NoError(t, err)
	require.Equal(t, 4, rawCount(t, resp))

	_, err = call(t, cc, viewsapi.MethodGetRawData,
		rawRequest(cci, "Plant.Nothing", DemoStart, DemoStart+60, false, 0), "GetRawDataResponse")
	require.Equal(t, codes.NotFound, status.Code(err))
}

func TestCurrentValueQualityFilter(t *testing.T) {
	t.Parallel()

	s := New(DemoCatalog(), zaptest.NewLogger(t))
	// The newest temperature sample is bad; a good filter falls back.
	require.NoError(t, s.Publish("Localhost", "Plant.Temperature", Point{Seconds: DemoStart + 600, Value: 0.0, Quality: QualityBad}))

	req := viewsapi.New("GetTagCurrentValueRequest")
	viewsapi.SetString(req, "view", "Localhost")
	viewsapi.AppendStrings(req, "tag_names", "Plant.Temperature")

	for _, tc := range []struct {
		filter int32
		want   int64
	}{
		{viewsapi.QualityAny, DemoStart + 600},
		{viewsapi.QualityGood, DemoStart + 540},
	} {
		viewsapi.SetInt32(req, "quality", tc.filter)
		resp, err := s.currentValues(context.Background(), req)
		require.NoError(t, err)
		tvs := viewsapi.Messages(resp, "tag_values")
		require.Len(t, tvs, 1)
		sec, _, ok := viewsapi.Timestamp(viewsapi.GetMessage(tvs[0].Interface(), "timestamp"))
		require.True(t, ok)
		require.Equal(t, tc.want, sec)
	}
}

func TestSubscribe_SnapshotThenPublished(t *testing.T) {
	t.Parallel()

	h, cc := startBufGRPC(t)
	cci := register(t, cc)

	ctx, cancel := context.WithTimeout(authed(), 5*time.Second)
	defer cancel()
	cs, err := cc.NewStream(ctx, viewsapi.SubscribeStreamDesc, viewsapi.MethodSubscribeToLiveData)
	require.NoError(t, err)
	req := viewsapi.New("SubscribeToLiveDataRequest")
	viewsapi.SetInt32(req, "cci", cci)
	viewsapi.SetString(req, "view", "Localhost")
	viewsapi.AppendStrings(req, "tag_names", "Plant.Count")
	require.NoError(t, cs.SendMsg(req))
	require.NoError(t, cs.CloseSend())

	recv := func() proto.Message {
		resp := viewsapi.New("SubscribeToLiveDataResponse")
		require.NoError(t, cs.RecvMsg(resp))
		return resp
	}
	first := recv()
	require.Equal(t, "Plant.Count", viewsapi.GetString(first, "tag_name"))

	require.Eventually(t, func() bool { return h.Server.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, h.Server.Publish("Localhost", "Plant.Count", Point{Seconds: DemoStart + 600, Value: int64(1000), Quality: QualityGood}))
	// Tags nobody subscribed to are not forwarded.
	require.NoError(t, h.Server.Publish("Localhost", "Plant.Mode", Point{Seconds: DemoStart + 600, Value: "manual", Quality: QualityGood}))

	next := recv()
	tvqs := viewsapi.Messages(next, "tvqs")
	require.Len(t, tvqs, 1)
	sec, _, _ := viewsapi.Timestamp(viewsapi.GetMessage(tvqs[0].Interface(), "timestamp"))
	require.Equal(t, DemoStart+600, sec)
	require.Equal(t, "Plant.Count", viewsapi.GetString(next, "tag_name"))

	h.Server.Close()
	err = cs.RecvMsg(viewsapi.New("SubscribeToLiveDataResponse"))
	require.Error(t, err)
}
