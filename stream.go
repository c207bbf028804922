package main

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func streamRoutes(r chi.Router) {
	if !ENV.DEBUG {
		// Browsers pass the token as ?jwt= on websocket upgrades
		r.Use(ValidateJWT)
	} else {
		ENV.Log.Warnf("[OSL] Running in debug mode. Websocket authentication disabled.")
		r.Get("/echo", EchoHandler)
	}

	r.Get("/telemetry", func(w http.ResponseWriter, r *http.Request) {
		ENV.Conductor.ServeHTTP(w, r)
	})
}

// EchoHandler echoes every message back, for checking connectivity from a
// browser in debug mode.
func EchoHandler(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ENV.Log.Warnf("upgrade: %v", err)
		return
	}
	defer c.Close()
	for {
		mt, message, err := c.ReadMessage()
		if err != nil {
			ENV.Log.Debugf("read: %v", err)
			break
		}
		ENV.Log.Debugf("recv: %s", message)
		err = c.WriteMessage(mt, message)
		if err != nil {
			ENV.Log.Debugf("write: %v", err)
			break
		}
	}
}
