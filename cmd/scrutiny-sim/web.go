// Copyright 2023 The scrutiny-go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main // import "github.com/scrutiny-go/scrutiny/cmd/scrutiny-sim"

import (
	"context"
	"encoding/json"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/pkg/errors"
	"github.com/scrutiny-go/scrutiny"
	"golang.org/x/net/websocket"
)

// serveWeb exposes a live status page of the datalogger snapshot.
func serveWeb(ctx context.Context, addr string, handler *scrutiny.MainHandler, msg log.MsgStream) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		err := webHome.Execute(w, nil)
		if err != nil {
			msg.Warnf("could not render home page: %+v", err)
		}
	})
	mux.Handle("/status", websocket.Handler(func(ws *websocket.Conn) {
		defer ws.Close()
		tick := time.NewTicker(500 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				tsd := handler.Datalogger().PublishedData()
				raw, err := json.Marshal(map[string]interface{}{
					"state":      tsd.State.String(),
					"fault":      tsd.Fault.String(),
					"post_bytes": tsd.BytesToAcquireAfterTrigger,
					"post_rows":  tsd.WriteCounterSinceTrigger,
				})
				if err != nil {
					msg.Warnf("could not marshal status: %+v", err)
					continue
				}
				if _, err := ws.Write(raw); err != nil {
					return
				}
			}
		}
	}))

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	msg.Infof("status page on %q", addr)
	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "could not serve status page")
	}
	return nil
}

var webHome = template.Must(template.New("home").Parse(`<html>
<head><title>scrutiny-sim</title></head>
<body>
<h2>scrutiny-sim datalogger</h2>
<pre id="status">connecting...</pre>
<script>
var sock = new WebSocket("ws://" + location.host + "/status");
sock.onmessage = function (ev) {
	document.getElementById("status").textContent =
		JSON.stringify(JSON.parse(ev.data), null, 2);
};
sock.onclose = function () {
	document.getElementById("status").textContent = "disconnected";
};
</script>
</body>
</html>
`))
