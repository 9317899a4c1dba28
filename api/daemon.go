package api

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/oib/AITBC-sub002/build"
)

// DaemonVersion holds the version information for the daemon.
type DaemonVersion struct {
	Version string `json:"version"`
}

// daemonVersionHandler handles GET /daemon/version.
func (api *API) daemonVersionHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	writeJSON(w, DaemonVersion{Version: build.Version})
}

// daemonStopHandler handles POST /daemon/stop. The response is written
// before the stop channel closes so the caller sees the acknowledgement.
func (api *API) daemonStopHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	writeSuccess(w)
	select {
	case <-api.stop:
	default:
		close(api.stop)
	}
}
