// Command chat-cli is a line-oriented client of the chat server socket.
//
// Commands read from stdin, one per line:
//
//	add                  register the current profile
//	open <email>         create a chatroom with the user
//	send <email> <text>  send a message
//	leave <email>        leave the chatroom with the user
//	log <email>          print conversation with the user
//	rooms                list chatrooms
//	poll                 fetch pending notifications
//	quit
package main

import (
	"bufio"
	"flag"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chemi/chat/server/logs"
	"github.com/chemi/chat/server/store/types"
	"github.com/gorilla/websocket"
)

var (
	logFlags = flag.String("log_flags", "stdFlags", "comma-separated list of log flags")
	host     = flag.String("host", "localhost:6060", "address of the chat server")
	apiKey   = flag.String("api_key", "", "API key, see keygen")
	name     = flag.String("name", "", "display name of the user")
	email    = flag.String("email", "", "email of the user")
	photo    = flag.String("profile_url", "", "URL of the user's picture")
	interval = flag.Duration("poll", 0, "poll for notifications at this interval, 0 to poll on request only")
	verbose  = flag.Bool("verbose", false, "log full JSON representation of all frames")
)

func main() {
	flag.Parse()
	logs.Init(os.Stderr, *logFlags)

	if *email == "" {
		log.Fatal("--email must be provided")
	}
	if *apiKey == "" {
		log.Fatal("--api_key must be provided")
	}

	me := types.Profile{Name: *name, Email: *email, ProfileUrl: *photo}

	u := url.URL{Scheme: "ws", Host: *host, Path: "/v0/channels"}
	header := http.Header{}
	header.Set("X-Chat-APIKey", *apiKey)

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			log.Fatalf("failed to connect to server: %v %s", err, body)
		}
		log.Fatalf("failed to connect to server: %v", err)
	}
	defer conn.Close()

	cli := newClient(conn, me, os.Stdout, *verbose)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := cli.readLoop(); err != nil {
			logs.Err.Println("connection closed:", err)
		}
	}()

	if err := cli.send(evProfile, me); err != nil {
		log.Fatalf("failed to send profile: %v", err)
	}

	if *interval > 0 {
		go func() {
			ticker := time.NewTicker(*interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := cli.send(evCheckUpdate, me); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" {
			break
		}
		if err := cli.command(line); err != nil {
			logs.Warn.Println(err)
		}
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
