package chat

import (
	"errors"

	"github.com/chemi/chat/server/logs"
	"github.com/chemi/chat/server/store"
	"github.com/chemi/chat/server/store/types"
)

// AddUser registers the user. Returns false if the user already exists, which is not
// an error: the stored profile is left unchanged.
func (s *Service) AddUser(p types.Profile) (bool, error) {
	if p.Email == "" {
		return false, errValidation("user email is missing")
	}

	user := &types.User{
		Email:      p.Email,
		Name:       p.Name,
		ProfileUrl: p.ProfileUrl,
		CreatedAt:  s.now(),
	}
	if err := store.Users.Create(user); err != nil {
		if errors.Is(err, types.ErrDuplicate) {
			return false, nil
		}
		return false, errStorage("create user", err)
	}

	logs.Info.Println("chat: new user", p.Email)
	return true, nil
}

// profiles loads the users and returns their profiles keyed by email.
// Returns ErrUserNotFound naming the first missing user.
func profiles(emails ...string) (map[string]types.Profile, error) {
	users, err := store.Users.GetAll(emails...)
	if err != nil {
		return nil, errStorage("load users", err)
	}

	found := make(map[string]types.Profile, len(users))
	for i := range users {
		found[users[i].Email] = users[i].Profile()
	}
	for _, email := range emails {
		if _, ok := found[email]; !ok {
			return nil, errWithDetail(ErrUserNotFound, email)
		}
	}
	return found, nil
}
