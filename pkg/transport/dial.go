package transport

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// Dial opens a client websocket to url. Header carries optional admission
// credentials.
func Dial(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Accept upgrades an HTTP request on the relay side.
func Accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
}
