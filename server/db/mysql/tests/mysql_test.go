package tests

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"testing"

	jcr "github.com/tinode/jsonco"

	adapter "github.com/chemi/chat/server/db"
	"github.com/chemi/chat/server/db/common/test_data"
	"github.com/chemi/chat/server/db/common/testsuite"
	backend "github.com/chemi/chat/server/db/mysql"
	"github.com/chemi/chat/server/logs"
)

type configType struct {
	// If Reset=true test will recreate database every time it runs
	Reset bool `json:"reset_db_data"`
	// Configurations for individual adapters.
	Adapters map[string]json.RawMessage `json:"adapters"`
}

var config configType
var adp adapter.Adapter

func TestAdapter(t *testing.T) {
	if err := adp.CreateDb(config.Reset); err != nil {
		t.Fatal(err)
	}
	testsuite.Run(t, adp, test_data.InitTestData())
}

func TestMain(m *testing.M) {
	conffile := flag.String("config", "./test.conf", "config of the database connection")
	flag.Parse()

	logs.Init(os.Stderr, "stdFlags")

	file, err := os.Open(*conffile)
	if err != nil {
		// No database to test against.
		log.Println("Skipping MySQL tests:", err)
		os.Exit(0)
	}
	err = json.NewDecoder(jcr.New(file)).Decode(&config)
	file.Close()
	if err != nil {
		log.Fatal("Failed to parse config file:", err)
	}

	adp = backend.GetAdapter()
	if err = adp.Open(config.Adapters[adp.GetName()]); err != nil {
		log.Fatal(err)
	}

	code := m.Run()
	adp.Close()
	os.Exit(code)
}
