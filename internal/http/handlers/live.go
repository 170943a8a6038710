package handlers

import (
	"net/http"

	"github.com/diagnosis/gatekeeper-relay/internal/live"
	"github.com/diagnosis/gatekeeper-relay/pkg/logger"
	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

// Live returns the SockJS endpoint viewers connect to. Viewers only listen;
// anything they send is ignored.
func (h *Handler) Live() http.Handler {
	return sockjs.NewHandler("/live", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &live.Client{ID: uuid.NewString(), Send: make(chan []byte, h.opts.ViewerBuffer)}
		h.hub.Register(client)
		h.metrics.ViewerConnected()
		logger.Info("Viewer connected", "client_id", client.ID, "remote_addr", session.Request().RemoteAddr)

		defer func() {
			h.hub.Unregister(client)
			h.metrics.ViewerDisconnected()
			logger.Info("Viewer disconnected", "client_id", client.ID)
		}()

		go func() {
			for msg := range client.Send {
				if err := session.Send(string(msg)); err != nil {
					return
				}
			}
		}()

		for {
			if _, err := session.Recv(); err != nil {
				return
			}
		}
	})
}
