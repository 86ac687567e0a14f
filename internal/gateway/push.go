package gateway

import (
	"context"
	"encoding/json"

	"mcpgate/internal/events"
	"mcpgate/internal/jsonrpc"
	"mcpgate/pkg/logging"
)

// RunPushFanout delivers upstream push messages to the background streams of
// every session bound to the originating upstream. It runs until ctx is
// cancelled or the bus closes. Responses correlated to pending requests
// never reach the bus; the transports route those to their waiting callers.
func (s *Server) RunPushFanout(ctx context.Context) {
	sub := s.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			if event.Type != events.TypePushMessage {
				continue
			}
			s.fanOut(event.UpstreamID, event.Message)
		}
	}
}

// fanOut adapts one push message to a JSON-RPC frame and enqueues it on each
// matching background stream. POST streams and other upstreams' sessions
// never see it.
func (s *Server) fanOut(upstreamID string, message json.RawMessage) {
	frame := adaptPushFrame(message)
	if frame == nil {
		logging.Debug("Gateway", "Discarding malformed push frame from upstream %s", upstreamID)
		return
	}

	delivered := 0
	for _, sess := range s.sessions.ForUpstream(upstreamID) {
		stream, ok := sess.Background().(*backgroundStream)
		if !ok || stream == nil {
			continue
		}
		stream.Enqueue(frame)
		delivered++
	}
	if delivered > 0 {
		s.metrics.pushes.Add(float64(delivered))
		logging.Debug("Gateway", "Push from upstream %s delivered to %d background streams", upstreamID, delivered)
	}
}

// adaptPushFrame normalizes an upstream frame into a well-formed JSON-RPC
// message, stamping the version when the upstream omitted it. Returns nil
// for frames that do not decode.
func adaptPushFrame(message json.RawMessage) []byte {
	var msg jsonrpc.Message
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil
	}
	if msg.JSONRPC == jsonrpc.Version {
		return message
	}
	msg.JSONRPC = jsonrpc.Version
	frame, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return frame
}
