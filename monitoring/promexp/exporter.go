package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metric binds an expvar path to a Prometheus descriptor.
type metric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	// Dot-separated path to the value in the expvar JSON.
	path string
}

// Exporter collects metrics from a chat server.
type Exporter struct {
	address string
	client  *http.Client

	up      *prometheus.Desc
	metrics []metric
	// Counter per signal, read from a map variable.
	signals *prometheus.Desc
}

const signalsPath = "SignalsBySignal"

var errKeyNotFound = errors.New("key not found")

// NewExporter returns an initialized exporter.
func NewExporter(server, namespace string, timeout time.Duration) *Exporter {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}

	return &Exporter{
		address: server,
		client:  &http.Client{Timeout: timeout},
		up:      desc("up", "If chat server instance is reachable."),
		signals: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "signals_total"),
			"Total number of successfully handled signals.", []string{"signal"}, nil),
		metrics: []metric{
			{desc("sessions_live_count", "Number of currently open socket sessions."),
				prometheus.GaugeValue, "LiveSessions"},
			{desc("sessions_total", "Total number of socket sessions since instance start."),
				prometheus.CounterValue, "TotalSessions"},
			{desc("profiles_bound_count", "Number of users with at least one open socket session."),
				prometheus.GaugeValue, "BoundProfiles"},
			{desc("incoming_messages_websock_total", "Total number of frames received over websocket."),
				prometheus.CounterValue, "IncomingMessagesWebsockTotal"},
			{desc("outgoing_messages_websock_total", "Total number of frames sent over websocket."),
				prometheus.CounterValue, "OutgoingMessagesWebsockTotal"},
			{desc("incoming_events_total", "Total number of socket events handled."),
				prometheus.CounterValue, "IncomingEventsTotal"},
			{desc("incoming_signals_http_total", "Total number of signals received over HTTP."),
				prometheus.CounterValue, "IncomingSignalsHttpTotal"},
			{desc("failed_signals_total", "Total number of HTTP signals answered with an error."),
				prometheus.CounterValue, "FailedSignalsTotal"},
			{desc("tasks_delivered_total", "Total number of mailbox tasks delivered to clients."),
				prometheus.CounterValue, "TasksDeliveredTotal"},
			{desc("goroutines_count", "Number of goroutines."),
				prometheus.GaugeValue, "NumGoroutines"},
			{desc("uptime_seconds", "Seconds since the instance start."),
				prometheus.GaugeValue, "Uptime"},
			{desc("malloced_bytes", "Number of bytes of memory allocated and in use."),
				prometheus.GaugeValue, "memstats.Alloc"},
		},
	}
}

// Describe describes all the metrics exported by the chat exporter. It
// implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.up
	ch <- e.signals
	for _, m := range e.metrics {
		ch <- m.desc
	}
}

// Collect fetches statistics from the configured chat server instance, and
// delivers them as Prometheus metrics. It implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	resp, err := e.client.Get(e.address)
	if err != nil {
		ch <- prometheus.MustNewConstMetric(e.up, prometheus.GaugeValue, 0)
		log.Println("Failed to connect to server", err)
		return
	}
	defer resp.Body.Close()

	up := float64(1)

	var stats map[string]any
	if resp.StatusCode != http.StatusOK {
		log.Println("Unexpected response status", resp.Status)
		up = 0
	} else if err = json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		log.Println("Failed to fetch or parse response", err)
		up = 0
	} else if err = e.parseStats(ch, stats); err != nil {
		up = 0
	}

	ch <- prometheus.MustNewConstMetric(e.up, prometheus.GaugeValue, up)
}

func (e *Exporter) parseStats(ch chan<- prometheus.Metric, stats map[string]any) error {
	for _, m := range e.metrics {
		v, err := parseNumeric(stats, m.path)
		if err == errKeyNotFound {
			// Variables are published lazily, missing ones are skipped.
			continue
		}
		if err != nil {
			return err
		}
		ch <- prometheus.MustNewConstMetric(m.desc, m.valueType, v)
	}

	bySignal, ok := stats[signalsPath].(map[string]any)
	if !ok {
		return nil
	}
	for signal := range bySignal {
		v, err := parseNumeric(bySignal, signal)
		if err != nil {
			return err
		}
		ch <- prometheus.MustNewConstMetric(e.signals, prometheus.CounterValue, v, signal)
	}
	return nil
}

func parseNumeric(stats map[string]any, path string) (float64, error) {
	var value any = stats
	for _, part := range strings.Split(path, ".") {
		subset, ok := value.(map[string]any)
		if !ok {
			return 0, errKeyNotFound
		}
		if value, ok = subset[part]; !ok {
			return 0, errKeyNotFound
		}
	}

	floatval, ok := value.(float64)
	if !ok {
		log.Println("Value at path is not a number:", path, value)
		return 0, errors.New("value at '" + path + "' is not a number")
	}
	return floatval, nil
}
