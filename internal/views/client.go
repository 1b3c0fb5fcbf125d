// Package views is a typed client for the Canary Views API. Every call goes
// through one session; callers never deal with the client connection id.
package views

import (
	"context"

	"github.com/huntermatuse/crowsong/internal/convert"
	"github.com/huntermatuse/crowsong/internal/model"
	"github.com/huntermatuse/crowsong/internal/session"
	"github.com/huntermatuse/crowsong/internal/viewsapi"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Default identity sent when registering the client connection.
const (
	DefaultApp    = "crowsong"
	DefaultUserID = "crowsong"
)

// Client issues Canary Views calls over a session.
type Client struct {
	cc  grpc.ClientConnInterface
	ses *session.Session
}

// Connect establishes a session and wraps it.
func Connect(ctx context.Context, address, credential, app, userID string, opts ...session.Option) (*Client, error) {
	s, err := session.Establish(ctx, address, credential, app, userID, opts...)
	if err != nil {
		return nil, err
	}
	return New(s), nil
}

// New wraps an established session.
func New(s *session.Session) *Client {
	return &Client{cc: s, ses: s}
}

// Session returns the underlying session.
func (c *Client) Session() *session.Session { return c.ses }

// ID is the client connection id of the session.
func (c *Client) ID() int32 { return c.ses.ID() }

// Close releases the session.
func (c *Client) Close(ctx context.Context) error { return c.ses.Release(ctx) }

func (c *Client) invoke(ctx context.Context, method string, req proto.Message, respType string) (proto.Message, error) {
	var resp proto.Message = &emptypb.Empty{}
	if respType != "" {
		resp = viewsapi.New(respType)
	}
	if err := c.cc.Invoke(ctx, method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Test checks that the service answers.
func (c *Client) Test(ctx context.Context) error {
	_, err := c.invoke(ctx, viewsapi.MethodTest, &emptypb.Empty{}, "")
	return err
}

// Version returns the web service version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	resp, err := c.invoke(ctx, viewsapi.MethodGetWebServiceVersion, &emptypb.Empty{}, "GetWebServiceVersionResponse")
	if err != nil {
		return "", err
	}
	return viewsapi.GetString(resp, "version"), nil
}

// Keepalive refreshes the client connection id on the service.
func (c *Client) Keepalive(ctx context.Context) error {
	_, err := c.invoke(ctx, viewsapi.MethodKeepaliveClientConnectionId,
		viewsapi.New("KeepaliveClientConnectionIdRequest"), "KeepaliveClientConnectionIdResponse")
	return err
}

// Views lists view names.
func (c *Client) Views(ctx context.Context) ([]string, error) {
	resp, err := c.invoke(ctx, viewsapi.MethodGetViews, viewsapi.New("GetViewsRequest"), "GetViewsResponse")
	if err != nil {
		return nil, err
	}
	return viewsapi.Strings(resp, "views"), nil
}

// DataSets lists the datasets of view.
func (c *Client) DataSets(ctx context.Context, view string, includeHidden bool) ([]string, error) {
	req := viewsapi.New("GetDataSetListRequest")
	viewsapi.SetString(req, "view", view)
	viewsapi.SetBool(req, "include_hidden", includeHidden)
	resp, err := c.invoke(ctx, viewsapi.MethodGetDataSetList, req, "GetDataSetListResponse")
	if err != nil {
		return nil, err
	}
	return viewsapi.Strings(resp, "datasets"), nil
}

// Tags lists tag names of a dataset starting at offset. maxCount <= 0 lets
// the service decide.
func (c *Client) Tags(ctx context.Context, view, dataset string, offset, maxCount int32) ([]string, error) {
	req := viewsapi.New("GetTagListRequest")
	viewsapi.SetString(req, "view", view)
	viewsapi.SetString(req, "dataset_name", dataset)
	viewsapi.SetInt32(req, "starting_offset", offset)
	viewsapi.SetInt32(req, "max_count", maxCount)
	resp, err := c.invoke(ctx, viewsapi.MethodGetTagList, req, "GetTagListResponse")
	if err != nil {
		return nil, err
	}
	return viewsapi.Strings(resp, "tag_names"), nil
}

// CurrentValues returns the newest sample of each tag passing the filter.
func (c *Client) CurrentValues(ctx context.Context, view string, tags []string, q model.Quality) ([]model.TagValue, error) {
	req := convert.ToProtoCurrentValueRequest(view, tags, q)
	resp, err := c.invoke(ctx, viewsapi.MethodGetTagCurrentValue, req, "GetTagCurrentValueResponse")
	if err != nil {
		return nil, err
	}
	return convert.FromProtoTagValues(resp), nil
}

// RawData returns raw history for q.Tags between q.Start and q.End.
func (c *Client) RawData(ctx context.Context, q model.RawQuery) (model.Series, error) {
	req, err := convert.ToProtoRawDataRequest(q)
	if err != nil {
		return nil, err
	}
	resp, err := c.invoke(ctx, viewsapi.MethodGetRawData, req, "GetRawDataResponse")
	if err != nil {
		return nil, err
	}
	return convert.FromProtoRawData(resp), nil
}

// LiveStream yields live updates until the server ends the stream or the
// context passed to Subscribe is done.
type LiveStream struct {
	cs grpc.ClientStream
}

// Subscribe opens a live data stream for tags of view.
func (c *Client) Subscribe(ctx context.Context, view string, tags []string) (*LiveStream, error) {
	req := viewsapi.New("SubscribeToLiveDataRequest")
	viewsapi.SetString(req, "view", view)
	viewsapi.AppendStrings(req, "tag_names", tags...)

	cs, err := c.cc.NewStream(ctx, viewsapi.SubscribeStreamDesc, viewsapi.MethodSubscribeToLiveData)
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(req); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &LiveStream{cs: cs}, nil
}

// Recv returns the next update. io.EOF marks a clean end of stream.
func (l *LiveStream) Recv() (model.LiveUpdate, error) {
	resp := viewsapi.New("SubscribeToLiveDataResponse")
	if err := l.cs.RecvMsg(resp); err != nil {
		return model.LiveUpdate{}, err
	}
	return convert.FromProtoLiveUpdate(resp), nil
}
