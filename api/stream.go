package api

// stream.go bridges the gossip broker onto websockets. Each connection
// subscribes to one topic; a subscriber that cannot keep up within the write
// deadline is dropped rather than allowed to stall the broker.

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/oib/AITBC-sub002/modules"
	"github.com/oib/AITBC-sub002/types"
)

const (
	streamWriteWait = 5 * time.Second
	streamPingEvery = 30 * time.Second
)

var streamTopics = map[string]bool{
	modules.TopicBlock:    true,
	modules.TopicTx:       true,
	modules.TopicJobEvent: true,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced by the CORS layer in front of the router.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamHandler handles GET /stream/:topic.
func (api *API) streamHandler(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	topic := ps.ByName("topic")
	if !streamTopics[topic] {
		writeError(w, types.NewCodedError(types.ErrCodeNotFound, "no such stream topic"))
		return
	}
	msgs, cancel, err := api.broker.Subscribe(topic)
	if err != nil {
		writeError(w, types.WrapCoded(types.ErrCodeDependency, err))
		return
	}
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		cancel()
		return
	}
	defer conn.Close()
	defer cancel()

	// Drain the read side so close frames and pongs are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
