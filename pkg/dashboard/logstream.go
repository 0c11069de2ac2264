package dashboard

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/kelda/wavectl/pkg/errors"
	"github.com/kelda/wavectl/pkg/reconcile"
)

// StreamLogs subscribes to the job's log over a WebSocket. It implements
// reconcile.Source.
func (c *Client) StreamLogs(ctx context.Context, name string) (reconcile.LogStream, error) {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += wsPath + "/" + name + "/logs"

	header := http.Header{}
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, errors.WithContext("get token", err)
		}
		header.Set("Authorization", token.Type()+" "+token.AccessToken)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			if statusErr := checkStatus(resp.StatusCode, nil); statusErr != nil {
				err = statusErr
			}
		}
		return nil, errors.WithContext("dial log stream", err)
	}

	log.WithField("url", u.String()).Debug("Connected to log stream")
	return &wsLogStream{conn: conn}, nil
}

type wsLogStream struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

// Recv returns the next message. The dashboard closes the socket without a
// close frame once the job's pod exits, so every close is treated as the
// end of the stream.
func (s *wsLogStream) Recv() (string, error) {
	_, msg, err := s.conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return "", errors.ErrStreamClosed
		}
		return "", errors.WithContext("read log stream", err)
	}
	return string(msg), nil
}

func (s *wsLogStream) Close() (err error) {
	s.closeOnce.Do(func() {
		// Best effort. The peer may already be gone.
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = s.conn.Close()
	})
	return err
}
