package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/chemi/chat/server/chat"
	"github.com/chemi/chat/server/store/types"
)

/*
Message object in data.json

	{"from": "alice@example.com", "text": "Hi Bob!", "at": "-139h"}
*/
type Message struct {
	From string `json:"from"`
	Text string `json:"text"`
	// Offset from now as a Go duration string.
	At string `json:"at"`
}

/*
Conversation object in data.json

	"users": ["alice@example.com", "bob@example.com"],
	"messages": [...],
	"left": ["bob@example.com"]

The first user creates the conversation.
*/
type Conversation struct {
	Users    []string  `json:"users"`
	Messages []Message `json:"messages"`
	// Users who left the conversation after all messages were sent.
	Left []string `json:"left"`
}

// Data is the content of data.json.
type Data struct {
	Users         []types.Profile `json:"users"`
	Conversations []Conversation  `json:"conversations"`
}

func loadData(path string) (*Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data Data
	if err = json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return &data, data.validate()
}

// validate checks that conversations reference known users.
func (d *Data) validate() error {
	known := make(map[string]bool, len(d.Users))
	for _, u := range d.Users {
		if u.Email == "" {
			return errors.New("user without email")
		}
		known[u.Email] = true
	}
	for i, c := range d.Conversations {
		if len(c.Users) != 2 {
			return fmt.Errorf("conversation %d must have exactly two users", i)
		}
		participant := func(email string) error {
			if email != c.Users[0] && email != c.Users[1] {
				return fmt.Errorf("conversation %d: '%s' is not a participant", i, email)
			}
			return nil
		}
		for _, email := range c.Users {
			if !known[email] {
				return fmt.Errorf("conversation %d: unknown user '%s'", i, email)
			}
		}
		for _, m := range c.Messages {
			if err := participant(m.From); err != nil {
				return err
			}
			if _, err := parseOffset(m.At); err != nil {
				return err
			}
		}
		for _, email := range c.Left {
			if err := participant(email); err != nil {
				return err
			}
		}
	}
	return nil
}

// Go json cannot unmarshal Duration from a string, thus this hack.
func parseOffset(delta string) (time.Duration, error) {
	if delta == "" {
		return 0, nil
	}
	return time.ParseDuration(delta)
}

func getCreatedTime(now time.Time, delta string) time.Time {
	dd, _ := parseOffset(delta)
	return now.Add(dd)
}

// genDb loads sample data through the chat service, the same way clients would.
func genDb(data *Data, keepTasks bool) error {
	if len(data.Users) == 0 {
		log.Println("No data provided, stopping")
		return nil
	}

	svc := chat.NewService(nil)
	profiles := make(map[string]types.Profile, len(data.Users))

	log.Println("Generating users...")
	for _, u := range data.Users {
		if _, err := svc.AddUser(u); err != nil {
			return err
		}
		profiles[u.Email] = u
	}

	log.Println("Generating conversations...")
	now := types.TimeNow()
	for _, c := range data.Conversations {
		owner, peer := profiles[c.Users[0]], profiles[c.Users[1]]
		conv, err := svc.ResolveOrCreate(owner, peer)
		if err != nil {
			return fmt.Errorf("%s and %s: %w", owner.Email, peer.Email, err)
		}
		for _, m := range c.Messages {
			from, to := owner, peer
			if m.From == peer.Email {
				from, to = peer, owner
			}
			if _, err := svc.Append(from, to, m.Text, getCreatedTime(now, m.At)); err != nil {
				return err
			}
		}
		for _, email := range c.Left {
			other := owner
			if email == owner.Email {
				other = peer
			}
			if _, err := svc.Leave(profiles[email], other); err != nil {
				return err
			}
		}
		log.Printf("Chatroom %s: %s, %s, %d messages", conv.Id, owner.Email, peer.Email, len(c.Messages))
	}

	if !keepTasks {
		log.Println("Clearing mailboxes...")
		for email := range profiles {
			if _, err := svc.Drain(email); err != nil {
				return err
			}
		}
	}
	return nil
}
