package chromium

import (
	"fmt"
	"time"

	cdpcdp "github.com/chromedp/cdproto/cdp"
	cdpfetch "github.com/chromedp/cdproto/fetch"
	cdpnetwork "github.com/chromedp/cdproto/network"

	"github.com/grafana/xk6-browser-agent/agent"
	"github.com/grafana/xk6-browser-agent/network"
)

func toRequest(ev *cdpnetwork.EventRequestWillBeSent) *network.Request {
	r := &network.Request{
		ID:           string(ev.RequestID),
		ResourceType: ev.Type.String(),
		FrameID:      string(ev.FrameID),
		Timestamp:    wallTime(ev.WallTime),
	}
	if ev.Request != nil {
		r.URL = ev.Request.URL + ev.Request.URLFragment
		r.Method = ev.Request.Method
		r.Headers = toHeaders(ev.Request.Headers)
	}
	return r
}

func toPausedRequest(ev *cdpfetch.EventRequestPaused) *network.Request {
	id := string(ev.NetworkID)
	if id == "" {
		id = string(ev.RequestID)
	}
	r := &network.Request{
		ID:           id,
		ResourceType: ev.ResourceType.String(),
		FrameID:      string(ev.FrameID),
		Timestamp:    time.Now(),
	}
	if ev.Request != nil {
		r.URL = ev.Request.URL + ev.Request.URLFragment
		r.Method = ev.Request.Method
		r.Headers = toHeaders(ev.Request.Headers)
	}
	return r
}

func toResponse(requestID cdpnetwork.RequestID, resp *cdpnetwork.Response, ts *cdpcdp.MonotonicTime) *network.Response {
	r := &network.Response{
		RequestID:  string(requestID),
		URL:        resp.URL,
		Status:     resp.Status,
		StatusText: resp.StatusText,
		Headers:    toHeaders(resp.Headers),
		MIMEType:   resp.MimeType,
	}
	if ts != nil {
		r.Timestamp = ts.Time()
	}
	return r
}

func toHeaders(h cdpnetwork.Headers) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func wallTime(t *cdpcdp.TimeSinceEpoch) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.Time()
}

func toNode(id cdpcdp.NodeID, n *cdpcdp.Node) *agent.Node {
	name := n.LocalName
	if name == "" {
		name = n.NodeName
	}
	attrs := make(map[string]string, len(n.Attributes)/2)
	for i := 0; i+1 < len(n.Attributes); i += 2 {
		attrs[n.Attributes[i]] = n.Attributes[i+1]
	}
	return &agent.Node{
		ID:         int64(id),
		Name:       name,
		Value:      n.NodeValue,
		Attributes: attrs,
	}
}
