// Debug tooling. Dumps named runtime profile at
//
//	http(s)://<host-name>/<pprof_url>/<profile-name>[?debug=N]
//
// Requesting the root path lists available profiles.

package main

import (
	"fmt"
	"net/http"
	"path"
	"runtime/pprof"
	"strconv"
	"strings"

	"github.com/chemi/chat/server/logs"
	"github.com/chemi/chat/server/store/types"
)

// Expose runtime profiles at the given URL path.
func servePprof(mux *http.ServeMux, serveAt string) {
	if serveAt == "" || serveAt == "-" {
		return
	}

	root := path.Clean("/"+serveAt) + "/"
	mux.Handle(root, pprofHandler(root))

	logs.Info.Printf("pprof: profiling info exposed at '%s'", root)
}

func pprofHandler(root string) http.Handler {
	return http.HandlerFunc(func(wrt http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			writeJSON(wrt, http.StatusMethodNotAllowed, ErrOperationNotAllowed(types.TimeNow()))
			return
		}

		wrt.Header().Set("X-Content-Type-Options", "nosniff")
		wrt.Header().Set("Content-Type", "text/plain; charset=utf-8")

		name := strings.TrimPrefix(req.URL.Path, root)
		if name == "" {
			for _, p := range pprof.Profiles() {
				fmt.Fprintf(wrt, "%s %d\n", p.Name(), p.Count())
			}
			return
		}

		profile := pprof.Lookup(name)
		if profile == nil {
			writeJSON(wrt, http.StatusNotFound, &MsgServerError{Code: http.StatusNotFound,
				Text: "unknown profile '" + name + "'", Timestamp: types.TimeNow()})
			return
		}

		// Goroutine stacks are the common case.
		debug := 2
		if val := req.URL.Query().Get("debug"); val != "" {
			var err error
			if debug, err = strconv.Atoi(val); err != nil || debug < 0 {
				writeJSON(wrt, http.StatusBadRequest, &MsgServerError{Code: http.StatusBadRequest,
					Text: "invalid debug level", Timestamp: types.TimeNow()})
				return
			}
		}
		if debug == 0 {
			wrt.Header().Set("Content-Type", "application/octet-stream")
		}
		if err := profile.WriteTo(wrt, debug); err != nil {
			logs.Warn.Printf("pprof: failed to write '%s': %v", name, err)
		}
	})
}
