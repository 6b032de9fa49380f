/******************************************************************************
 *
 *  Description :
 *
 *  Setup & initialization.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/chemi/chat/server/chat"
	"github.com/chemi/chat/server/concurrency"
	"github.com/chemi/chat/server/logs"
	"github.com/chemi/chat/server/store"
	"github.com/gorilla/handlers"
	jcr "github.com/tinode/jsonco"

	// Database backends
	_ "github.com/chemi/chat/server/db/mongodb"
	_ "github.com/chemi/chat/server/db/mysql"
	_ "github.com/chemi/chat/server/db/postgres"
	_ "github.com/chemi/chat/server/db/rethinkdb"
	_ "github.com/chemi/chat/server/db/sqlite"
)

const (
	// idleSessionTimeout defines duration of being idle before terminating a session.
	idleSessionTimeout = time.Second * 55

	// currentVersion is the current API/protocol version
	currentVersion = "0.1"

	// Default maximum size of an incoming message or request body.
	defaultMaxMessageSize = 1 << 19

	// Default number of workers handling socket events.
	defaultWorkerPoolSize = 64

	// Default path to expvar stats.
	defaultExpvarPath = "/debug/vars"

	// Default address to listen on.
	defaultListenAddr = ":6060"
)

// Build version number defined by the compiler:
//
//	-ldflags "-X main.buildstamp=value_to_assign_to_buildstamp"
//
// Reported in the startup log.
// For instance, to define the buildstamp as a timestamp of when the server was built add a
// flag to compiler command line:
//
//	-ldflags "-X main.buildstamp=`date -u '+%Y%m%dT%H:%M:%SZ'`"
var buildstamp = "undef"

var globals struct {
	// Socket sessions.
	sessionStore *SessionStore
	// Chat operations.
	chat *chat.Service
	// Pool of workers handling socket events.
	workerPool *concurrency.GoRoutinePool

	// Salt used for verifying API keys.
	apiKeySalt []byte
	// Maximum allowed size of an incoming message or request body.
	maxMessageSize int64

	// Channel for publishing expvar stats updates.
	statsUpdate chan *varUpdate

	// Use X-Forwarded-For HTTP header for obtaining client IP.
	useXForwardedFor bool

	// Add Strict-Transport-Security to headers, the value signifies age.
	// Empty string "" turns it off
	tlsStrictMaxAge string
	// Listen for connections on this address:port and redirect them to HTTPS port.
	tlsRedirectHTTP string
}

// Contents of the configuration file
type configType struct {
	// HTTP(S) address:port to listen on for websocket, signal and task requests. Either a
	// numeric or a canonical name, e.g. ":80" or ":https". Could include a host name, e.g.
	// "localhost:80".
	Listen string `json:"listen"`
	// Salt used in signing API keys
	APIKeySalt []byte `json:"api_key_salt"`
	// Maximum message size allowed from client. Intended to prevent malicious client from sending
	// very large requests.
	MaxMessageSize int `json:"max_message_size"`
	// Conversation id length, id allocation attempts and maximum message length.
	chat.Config
	// Number of workers handling socket events.
	WorkerPoolSize int `json:"worker_pool_size"`
	// URL path for exposing runtime stats. Disabled if the path is blank.
	ExpvarPath string `json:"expvar"`
	// Take IP address of the client from HTTP header 'X-Forwarded-For'.
	// Useful when the server is behind a reverse proxy.
	UseXForwardedFor bool `json:"use_x_forwarded_for"`

	// Configs for subsystems
	StoreConfig json.RawMessage `json:"store_config"`
	TLS         json.RawMessage `json:"tls"`
}

func main() {
	executable, _ := os.Executable()

	logFlags := flag.String("log_flags", "stdFlags",
		"Comma-separated list of log flags (as defined in https://golang.org/pkg/log/#pkg-constants without the L prefix)")
	configfile := flag.String("config", "chat.conf", "Path to config file.")
	// Path to static content.
	staticPath := flag.String("static_data", "", "File path to directory with static files to be served.")
	listenOn := flag.String("listen", "", "Override address and port to listen on for HTTP(S) clients.")
	tlsEnabled := flag.Bool("tls_enabled", false, "Override config value for enabling TLS.")
	expvarPath := flag.String("expvar", "", "Override the URL path where runtime stats are exposed. Use '-' to disable.")
	pprofFile := flag.String("pprof", "", "File name to save profiling info to. Disabled if not set.")
	pprofUrl := flag.String("pprof_url", "", "Debugging only! URL path for exposing profiling info. Disabled if not set.")
	flag.Parse()

	logs.Init(os.Stderr, *logFlags)

	curwd, err := os.Getwd()
	if err != nil {
		logs.Err.Fatal("Couldn't get current working directory: ", err)
	}

	logs.Info.Printf("Server v%s:%s:%s; pid %d; %d process(es)",
		currentVersion, executable, buildstamp,
		os.Getpid(), runtime.GOMAXPROCS(runtime.NumCPU()))

	*configfile = toAbsolutePath(curwd, *configfile)
	logs.Info.Printf("Using config from '%s'", *configfile)

	var config configType
	if file, err := os.Open(*configfile); err != nil {
		logs.Err.Fatal("Failed to read config file: ", err)
	} else {
		jr := jcr.New(file)
		if err = json.NewDecoder(jr).Decode(&config); err != nil {
			switch jerr := err.(type) {
			case *json.UnmarshalTypeError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Err.Fatalf("Unmarshall error in config file in %s at %d:%d (offset %d bytes): %s",
					jerr.Field, lnum, cnum, jerr.Offset, jerr.Error())
			case *json.SyntaxError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Err.Fatalf("Syntax error in config file at %d:%d (offset %d bytes): %s",
					lnum, cnum, jerr.Offset, jerr.Error())
			default:
				logs.Err.Fatal("Failed to parse config file: ", err)
			}
		}
		file.Close()
	}

	if *listenOn != "" {
		config.Listen = *listenOn
	}
	if config.Listen == "" {
		config.Listen = defaultListenAddr
	}

	// Set up HTTP server. Must use non-default mux because of expvar.
	mux := http.NewServeMux()

	// Exposing values for statistics and monitoring.
	evpath := *expvarPath
	if evpath == "" {
		evpath = config.ExpvarPath
		if evpath == "" {
			evpath = defaultExpvarPath
		}
	}

	// Initialize serving debug profiles (optional).
	servePprof(mux, *pprofUrl)

	if *pprofFile != "" {
		*pprofFile = toAbsolutePath(curwd, *pprofFile)

		cpuf, err := os.Create(*pprofFile + ".cpu")
		if err != nil {
			logs.Err.Fatal("Failed to create CPU pprof file: ", err)
		}
		defer cpuf.Close()

		memf, err := os.Create(*pprofFile + ".mem")
		if err != nil {
			logs.Err.Fatal("Failed to create Mem pprof file: ", err)
		}
		defer memf.Close()

		pprof.StartCPUProfile(cpuf)
		defer pprof.StopCPUProfile()
		defer pprof.WriteHeapProfile(memf)

		logs.Info.Printf("Profiling info saved to '%s.(cpu|mem)'", *pprofFile)
	}

	err = store.Store.Open(1, config.StoreConfig)
	logs.Info.Println("DB adapter", store.Store.GetAdapterName(), store.Store.GetAdapterVersion())
	if err != nil {
		logs.Err.Fatal("Failed to connect to DB: ", err)
	}
	defer func() {
		store.Store.Close()
		logs.Info.Println("Closed database connection(s)")
		logs.Info.Println("All done, good bye")
	}()

	statsInit(mux, evpath)

	globals.chat = chat.NewService(&config.Config)
	globals.sessionStore = NewSessionStore()

	poolSize := config.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = defaultWorkerPoolSize
	}
	globals.workerPool = concurrency.NewGoRoutinePool(poolSize)

	globals.apiKeySalt = config.APIKeySalt
	if len(globals.apiKeySalt) == 0 {
		logs.Err.Fatal("Missing api_key_salt in config")
	}

	globals.maxMessageSize = int64(config.MaxMessageSize)
	if globals.maxMessageSize <= 0 {
		globals.maxMessageSize = defaultMaxMessageSize
	}

	globals.useXForwardedFor = config.UseXForwardedFor

	tlsConfig, err := parseTLSConfig(*tlsEnabled, config.TLS)
	if err != nil {
		logs.Err.Fatalln(err)
	}

	// Serve static content from the directory in -static_data flag if that's
	// available, otherwise static content is not served.
	if *staticPath != "" {
		staticPath := toAbsolutePath(curwd, *staticPath)
		mux.Handle("/x/", http.StripPrefix("/x/", hstsHandler(http.FileServer(http.Dir(staticPath)))))
		logs.Info.Printf("Serving static content from '%s' at '/x/'", staticPath)
	} else {
		logs.Info.Println("Static content is disabled")
	}

	addRoutes(mux)

	if err = listenAndServe(config.Listen, wrapHandler(mux), tlsConfig, signalHandler()); err != nil {
		logs.Err.Fatal(err)
	}
}

// addRoutes registers chat endpoints on the mux.
func addRoutes(mux *http.ServeMux) {
	// Handle websocket clients.
	mux.HandleFunc("/v0/channels", serveWebSocket)
	// Signals from other servers and clients.
	mux.HandleFunc("/v0/signal", serveSignal)
	mux.HandleFunc("/{$}", serveSignal)
	// Mailbox polling.
	mux.HandleFunc("/v0/tasks", serveTasks)
	// Everything else is not found.
	mux.HandleFunc("/", serve404)
}

// wrapHandler adds CORS, access logging, panic recovery and HSTS to the handler.
func wrapHandler(h http.Handler) http.Handler {
	h = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-Chat-APIKey"}),
	)(hstsHandler(h))
	h = handlers.CombinedLoggingHandler(logs.Info.Writer(), h)
	return handlers.RecoveryHandler(handlers.RecoveryLogger(logs.Err), handlers.PrintRecoveryStack(true))(h)
}

// Convert relative filepath to absolute.
func toAbsolutePath(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Clean(filepath.Join(base, path))
}
