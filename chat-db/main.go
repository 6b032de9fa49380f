// Command chat-db creates or resets the chat database and optionally loads sample data.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/chemi/chat/server/store"
	jcr "github.com/tinode/jsonco"

	_ "github.com/chemi/chat/server/db/mongodb"
	_ "github.com/chemi/chat/server/db/mysql"
	_ "github.com/chemi/chat/server/db/postgres"
	_ "github.com/chemi/chat/server/db/rethinkdb"
	_ "github.com/chemi/chat/server/db/sqlite"
)

type configType struct {
	StoreConfig json.RawMessage `json:"store_config"`
}

func main() {
	reset := flag.Bool("reset", false, "force database reset")
	noInit := flag.Bool("no_init", false, "check that database exists but don't create if missing")
	datafile := flag.String("data", "", "name of file with sample data to load")
	keepTasks := flag.Bool("keep_tasks", false, "keep mailbox tasks produced while loading sample data")
	conffile := flag.String("config", "./chat.conf", "config of the database connection")

	flag.Parse()

	var data *Data
	if *datafile != "" && *datafile != "-" {
		var err error
		if data, err = loadData(*datafile); err != nil {
			log.Fatalln("Failed to load sample data:", err)
		}
	}

	var config configType
	if file, err := os.Open(*conffile); err != nil {
		log.Fatalln("Failed to read config file:", err)
	} else {
		jr := jcr.New(file)
		if err = json.NewDecoder(jr).Decode(&config); err != nil {
			switch jerr := err.(type) {
			case *json.UnmarshalTypeError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				log.Fatalf("Unmarshall error in config file in %s at %d:%d (offset %d bytes): %s",
					jerr.Field, lnum, cnum, jerr.Offset, jerr.Error())
			case *json.SyntaxError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				log.Fatalf("Syntax error in config file at %d:%d (offset %d bytes): %s",
					lnum, cnum, jerr.Offset, jerr.Error())
			default:
				log.Fatal("Failed to parse config file: ", err)
			}
		}
		file.Close()
	}

	err := store.Store.Open(1, config.StoreConfig)
	defer store.Store.Close()

	log.Println("Database", store.Store.GetAdapterName(), store.Store.GetAdapterVersion())

	if err != nil {
		if strings.Contains(err.Error(), "Database not initialized") {
			if *noInit {
				log.Fatalln("Database not found.")
			}
			log.Println("Database not found. Creating.")
		} else if strings.Contains(err.Error(), "Invalid database version") {
			msg := "Wrong DB version: expected " + strconv.Itoa(store.Store.GetAdapterVersion()) + ", got " +
				strconv.Itoa(store.Store.GetDbVersion()) + "."
			if !*reset {
				log.Fatalln(msg, "Use --reset to reset.")
			}
			log.Println(msg, "Dropping and recreating the database.")
		} else {
			log.Fatalln("Failed to init DB adapter:", err)
		}
	} else if *reset {
		log.Println("Database reset requested")
	} else {
		log.Println("Database exists, DB version is correct. All done.")
		return
	}

	if err = store.Store.InitDb(config.StoreConfig, true); err != nil {
		log.Fatalln("Failed to init DB:", err)
	}
	if *reset {
		log.Println("Database reset")
	} else {
		log.Println("Database initialized")
	}

	if data != nil {
		if err = genDb(data, *keepTasks); err != nil {
			log.Fatalln("Failed to load sample data:", err)
		}
	}
	log.Println("All done.")
}
