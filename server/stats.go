// Live server stats exposed through expvar: session and profile counts,
// frame, signal and task totals. Updates are applied by a single goroutine
// fed through a buffered channel, so callers never block on stats.

package main

import (
	"expvar"
	"net/http"
	"runtime"
	"time"

	"github.com/chemi/chat/server/logs"
	"github.com/chemi/chat/server/store"
)

// Names of published variables.
const (
	statLiveSessions    = "LiveSessions"
	statTotalSessions   = "TotalSessions"
	statBoundProfiles   = "BoundProfiles"
	statWsIncoming      = "IncomingMessagesWebsockTotal"
	statWsOutgoing      = "OutgoingMessagesWebsockTotal"
	statIncomingEvents  = "IncomingEventsTotal"
	statHttpSignals     = "IncomingSignalsHttpTotal"
	statFailedSignals   = "FailedSignalsTotal"
	statTasksDelivered  = "TasksDeliveredTotal"
	statSignalsBySignal = "SignalsBySignal"
)

type varUpdate struct {
	varname string
	// Key in an expvar.Map, empty for plain integers.
	key   string
	count int64
	// Add count instead of replacing the value.
	inc bool
}

// statsInit publishes variables and starts the updater. Variables outlive the
// updater: expvar has no way to unpublish them.
func statsInit(mux *http.ServeMux, path string) {
	if path == "" || path == "-" {
		return
	}

	mux.Handle(path, expvar.Handler())
	globals.statsUpdate = make(chan *varUpdate, 1024)

	start := time.Now()
	publish("Uptime", expvar.Func(func() any {
		return time.Since(start).Seconds()
	}))
	publish("NumGoroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))
	if dbStats := store.Store.DbStats(); dbStats != nil {
		publish("DbStats", expvar.Func(dbStats))
	}

	for _, name := range []string{
		statLiveSessions, statTotalSessions, statBoundProfiles,
		statWsIncoming, statWsOutgoing, statIncomingEvents,
		statHttpSignals, statFailedSignals, statTasksDelivered,
	} {
		publish(name, new(expvar.Int))
	}
	publish(statSignalsBySignal, new(expvar.Map))

	go statsUpdater(globals.statsUpdate)

	logs.Info.Printf("stats: variables exposed at '%s'", path)
}

// publish is expvar.Publish which tolerates repeated registration.
func publish(name string, v expvar.Var) {
	if expvar.Get(name) == nil {
		expvar.Publish(name, v)
	}
}

func statsPost(upd *varUpdate) {
	if globals.statsUpdate == nil {
		return
	}
	select {
	case globals.statsUpdate <- upd:
	default:
		// Updates are lost when the updater falls behind.
	}
}

// Async publish int variable.
func statsSet(name string, val int64) {
	statsPost(&varUpdate{varname: name, count: val})
}

// Async add an increment (decrement) to int variable.
func statsInc(name string, val int) {
	statsPost(&varUpdate{varname: name, count: int64(val), inc: true})
}

// Async increment a key of a map variable.
func statsIncKey(name, key string) {
	statsPost(&varUpdate{varname: name, key: key, count: 1, inc: true})
}

// Stop publishing stats.
func statsShutdown() {
	if globals.statsUpdate != nil {
		globals.statsUpdate <- nil
		globals.statsUpdate = nil
	}
}

func statsUpdater(updates <-chan *varUpdate) {
	for upd := range updates {
		if upd == nil {
			break
		}
		statsApply(upd)
	}
	logs.Info.Println("stats: shutdown")
}

func statsApply(upd *varUpdate) {
	switch v := expvar.Get(upd.varname).(type) {
	case *expvar.Int:
		if upd.inc {
			v.Add(upd.count)
		} else {
			v.Set(upd.count)
		}
	case *expvar.Map:
		v.Add(upd.key, upd.count)
	default:
		logs.Warn.Printf("stats: update to unknown variable '%s'", upd.varname)
	}
}
