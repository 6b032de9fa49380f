// Command promexp exports expvar stats of a chat server to Prometheus.
package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
)

type promHTTPLogger struct{}

func (promHTTPLogger) Println(v ...any) {
	log.Println(v...)
}

// newMux serves registry metrics at metricsPath and a build info page at the root.
func newMux(registry *prometheus.Registry, metricsPath string, timeout time.Duration) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.InstrumentMetricHandler(registry,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{
			ErrorLog: promHTTPLogger{},
			Timeout:  timeout,
		})))
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Chat Exporter</title></head><body>
<h1>Chat Exporter</h1>
<p><a href="` + metricsPath + `">Metrics</a></p>
<h2>Build</h2>
<pre>` + version.Info() + ` ` + version.BuildContext() + `</pre>
</body></html>`))
	})
	return mux
}

func main() {
	var (
		serverAddr  = flag.String("server_addr", "http://localhost:6060/debug/vars", "URL of the chat server expvar endpoint")
		namespace   = flag.String("namespace", "chat", "Namespace for metrics '<namespace>_...'")
		listenAt    = flag.String("listen_at", ":6222", "Host name and port to serve collected metrics at")
		metricsPath = flag.String("metrics_path", "/metrics", "Path under which to expose metrics")
		timeout     = flag.Duration("timeout", 15*time.Second, "Chat server connection timeout")
	)
	flag.Parse()

	if *metricsPath == "/" || *metricsPath == "" {
		log.Fatal("Metrics must be served at a path other than /")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(NewExporter(*serverAddr, *namespace, *timeout))

	log.Printf("Scraping %s, serving metrics at %s%s", *serverAddr, *listenAt, *metricsPath)
	log.Fatalln(http.ListenAndServe(*listenAt, newMux(registry, *metricsPath, *timeout)))
}
