/******************************************************************************
 *
 *  Description :
 *
 *    HTTP handlers: signal endpoint and mailbox poll.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/chemi/chat/server/chat"
	"github.com/chemi/chat/server/logs"
	"github.com/chemi/chat/server/store/types"
)

func writeJSON(wrt http.ResponseWriter, status int, v any) {
	wrt.Header().Set("Content-Type", "application/json; charset=utf-8")
	wrt.WriteHeader(status)
	if err := json.NewEncoder(wrt).Encode(v); err != nil {
		logs.Warn.Println("http: failed to write response", err)
	}
}

// boundaryError reports a request rejected before it reached the dispatcher.
func boundaryError(wrt http.ResponseWriter, status int, text string) {
	writeJSON(wrt, status, chat.ErrorResult(errors.New(text)))
}

// serveSignal handles GET|POST / and /v0/signal. The body is a JSON request, the
// response is the result envelope.
func serveSignal(wrt http.ResponseWriter, req *http.Request) {
	now := types.TimeNow()

	if !checkAPIKey(getAPIKey(req)) {
		writeJSON(wrt, http.StatusForbidden, ErrAPIKeyRequired(now))
		logs.Warn.Println("http: Missing, invalid or expired API key", getRemoteAddr(req))
		return
	}
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		writeJSON(wrt, http.StatusMethodNotAllowed, ErrOperationNotAllowed(now))
		return
	}

	statsInc(statHttpSignals, 1)

	var sig chat.Request
	dec := json.NewDecoder(io.LimitReader(req.Body, globals.maxMessageSize))
	if err := dec.Decode(&sig); err != nil {
		if errors.Is(err, io.EOF) {
			boundaryError(wrt, http.StatusBadRequest, "empty body")
		} else {
			logs.Warn.Println("http: malformed signal", err, getRemoteAddr(req))
			boundaryError(wrt, http.StatusBadRequest, "malformed body")
		}
		return
	}
	if sig.Route == "" {
		boundaryError(wrt, http.StatusBadRequest, "route is missing")
		return
	}

	res := globals.chat.Dispatch(&sig)
	if res.IsError() {
		statsInc(statFailedSignals, 1)
	} else {
		statsIncKey(statSignalsBySignal, string(sig.Signal))
	}
	writeJSON(wrt, http.StatusOK, res)
}

// serveTasks handles GET|POST /v0/tasks?email=. Responds with the drained mailbox,
// oldest first.
func serveTasks(wrt http.ResponseWriter, req *http.Request) {
	now := types.TimeNow()

	if !checkAPIKey(getAPIKey(req)) {
		writeJSON(wrt, http.StatusForbidden, ErrAPIKeyRequired(now))
		logs.Warn.Println("http: Missing, invalid or expired API key", getRemoteAddr(req))
		return
	}
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		writeJSON(wrt, http.StatusMethodNotAllowed, ErrOperationNotAllowed(now))
		return
	}

	email := req.FormValue("email")
	if email == "" {
		writeJSON(wrt, http.StatusBadRequest, &MsgServerError{Code: http.StatusBadRequest,
			Text: "email is missing", Timestamp: now})
		return
	}

	tasks, err := globals.chat.Drain(email)
	if err != nil {
		status := http.StatusInternalServerError
		switch chat.KindOf(err) {
		case chat.KindNotFound:
			status = http.StatusNotFound
		case chat.KindValidation:
			status = http.StatusBadRequest
		default:
			logs.Err.Println("http: drain failed", email, err)
		}
		writeJSON(wrt, status, &MsgServerError{Code: status, Text: err.Error(), Timestamp: now})
		return
	}
	if tasks == nil {
		tasks = []types.Task{}
	}

	statsInc(statTasksDelivered, len(tasks))
	writeJSON(wrt, http.StatusOK, tasks)
}
