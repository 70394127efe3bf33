package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"leveltwo/internal/changefeed"
)

// Subscribe opens a realtime stream for f. The channel is closed when ctx ends
// or the connection drops.
func (c *Client) Subscribe(ctx context.Context, f changefeed.Filter) (<-chan changefeed.Event, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(c.base + "/v1/realtime")
	if err != nil {
		return nil, errors.Wrap(err, "realtime url")
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	q := u.Query()
	q.Set("table", f.Table)
	if f.Date != "" {
		q.Set("date", f.Date)
	}
	u.RawQuery = q.Encode()

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+token)
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), hdr)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthenticated
		}
		return nil, errors.Wrapf(err, "subscribe %s", f.Table)
	}

	out := make(chan changefeed.Event, 64)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		case <-done:
		}
		conn.Close()
	}()
	go func() {
		defer close(out)
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var evt changefeed.Event
			if err := json.Unmarshal(msg, &evt); err != nil {
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
