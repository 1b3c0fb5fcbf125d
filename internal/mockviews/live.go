package mockviews

import (
	"github.com/huntermatuse/crowsong/internal/viewsapi"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
)

type liveUpdate struct {
	tag string
	p   Point
}

type subscription struct {
	view string
	tags map[string]bool
}

func liveResponse(tag string, p Point) proto.Message {
	m := viewsapi.New("SubscribeToLiveDataResponse")
	viewsapi.SetString(m, "tag_name", tag)
	viewsapi.AppendMessage(m, "tvqs", tvq(p))
	return m
}

// subscribe sends the latest sample of every requested tag, then every
// published sample until the client goes away or the server is shut.
func (s *Server) subscribe(_ any, stream grpc.ServerStream) error {
	req := viewsapi.New("SubscribeToLiveDataRequest")
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	ctx := stream.Context()
	s.record(ctx, viewsapi.MethodSubscribeToLiveData, req)
	if err := s.client(req); err != nil {
		return toStatus(err)
	}

	s.mu.Lock()
	v, err := s.catalog.view(viewsapi.GetString(req, "view"))
	if err != nil {
		s.mu.Unlock()
		return toStatus(err)
	}
	sub := subscription{view: v.Name, tags: make(map[string]bool)}
	var snapshot []proto.Message
	for _, name := range viewsapi.Strings(req, "tag_names") {
		t, err := v.tag(name)
		if err != nil {
			s.mu.Unlock()
			return toStatus(err)
		}
		sub.tags[name] = true
		if p, ok := t.latest(); ok {
			snapshot = append(snapshot, liveResponse(name, p))
		}
	}
	ch := make(chan liveUpdate, 64)
	s.subs[ch] = sub
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}()

	for _, m := range snapshot {
		if err := stream.SendMsg(m); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case u := <-ch:
			if err := stream.SendMsg(liveResponse(u.tag, u.p)); err != nil {
				return err
			}
		}
	}
}

// Publish appends p to the history of view/tag and forwards it to live
// subscribers of that tag.
func (s *Server) Publish(view, tag string, p Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.catalog.view(view)
	if err != nil {
		return err
	}
	t, err := v.tag(tag)
	if err != nil {
		return err
	}
	t.Points = append(t.Points, p)
	for ch, sub := range s.subs {
		if sub.view != v.Name || !sub.tags[tag] {
			continue
		}
		select {
		case ch <- liveUpdate{tag: tag, p: p}:
		default:
			s.log.Warn("subscriber lagging, update dropped", zap.String("tag", tag))
		}
	}
	return nil
}

// Subscribers is the number of open live streams.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close ends all live streams so a graceful stop can complete.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
