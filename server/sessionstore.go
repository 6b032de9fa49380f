/******************************************************************************
 *
 *  Description :
 *
 *  Registry of live socket sessions and of the profiles they are bound to.
 *
 *****************************************************************************/

package main

import (
	"sync"
	"time"

	"github.com/chemi/chat/server/logs"
	"github.com/chemi/chat/server/store"
	"github.com/chemi/chat/server/store/types"
	"github.com/gorilla/websocket"
)

// SessionStore holds live sessions indexed by session ID. Sessions which sent
// their profile are also indexed by the profile email.
type SessionStore struct {
	lock sync.Mutex

	// All sessions indexed by session ID
	sessCache map[string]*Session

	// Bound sessions: email -> session ID -> session.
	byEmail map[string]map[string]*Session
}

// NewSession creates a new session and saves it to the session store. When sid is
// empty a new one is generated.
func (ss *SessionStore) NewSession(conn *websocket.Conn, sid string) (*Session, int) {
	s := &Session{
		sid:  sid,
		ws:   conn,
		send: make(chan []byte, sendQueueLimit),
		stop: make(chan []byte, 1), // Buffered by 1 just to make it non-blocking
		done: make(chan struct{}),
	}
	if s.sid == "" {
		s.sid = store.Store.GetUidString()
	}
	s.lastTouched = time.Now()

	ss.lock.Lock()
	ss.sessCache[s.sid] = s
	count := len(ss.sessCache)
	ss.lock.Unlock()

	statsSet(statLiveSessions, int64(count))
	statsInc(statTotalSessions, 1)

	return s, count
}

// Get fetches a session from store by session ID.
func (ss *SessionStore) Get(sid string) *Session {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	return ss.sessCache[sid]
}

// Bind associates the session with the profile. A session is bound to at most one
// profile: binding again replaces the previous one.
func (ss *SessionStore) Bind(s *Session, profile types.Profile) {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	if old := s.getProfile(); old != nil {
		ss.unbindLocked(old.Email, s.sid)
	}
	s.setProfile(&profile)

	bound := ss.byEmail[profile.Email]
	if bound == nil {
		bound = make(map[string]*Session)
		ss.byEmail[profile.Email] = bound
	}
	bound[s.sid] = s
	statsSet(statBoundProfiles, int64(len(ss.byEmail)))
}

func (ss *SessionStore) unbindLocked(email, sid string) {
	if bound := ss.byEmail[email]; bound != nil {
		delete(bound, sid)
		if len(bound) == 0 {
			delete(ss.byEmail, email)
		}
	}
}

// Delete removes session from store.
func (ss *SessionStore) Delete(s *Session) int {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	delete(ss.sessCache, s.sid)
	if p := s.getProfile(); p != nil {
		ss.unbindLocked(p.Email, s.sid)
	}

	count := len(ss.sessCache)
	statsSet(statLiveSessions, int64(count))
	statsSet(statBoundProfiles, int64(len(ss.byEmail)))
	return count
}

// Shutdown terminates sessionStore. No need to clean up.
func (ss *SessionStore) Shutdown() {
	ss.lock.Lock()
	defer ss.lock.Unlock()

	shutdown := serialize(NoErrShutdown(types.TimeNow()))
	for _, s := range ss.sessCache {
		select {
		case s.stop <- shutdown:
		default:
		}
	}

	logs.Info.Printf("SessionStore shut down, sessions terminated: %d", len(ss.sessCache))
}

// NewSessionStore initializes a session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessCache: make(map[string]*Session),
		byEmail:   make(map[string]map[string]*Session),
	}
}
