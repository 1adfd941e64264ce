package common

import (
	"bytes"
	"sort"
	"sync"
)

type AuthInfo struct {
	Username []byte `json:"username,omitempty"`
	Password []byte `json:"password,omitempty"`
}

func (a *AuthInfo) Equals(b *AuthInfo) bool {
	return bytes.Equal(a.Username, b.Username) && bytes.Equal(a.Password, b.Password)
}

// IsEmpty is true when there is nothing to authenticate with.
func (a *AuthInfo) IsEmpty() bool {
	return a == nil || len(a.Password) == 0
}

// ToString never prints the password.
func (a *AuthInfo) ToString() string {
	if a == nil {
		return "<none>"
	}
	masked := ""
	if len(a.Password) > 0 {
		masked = "******"
	}
	return "Username: " + string(a.Username) + ", Password: " + masked
}

// CredentialStore maps a logical endpoint name to the credential used when a
// connection to that endpoint is opened. Readers are the dialers of every
// pool; writers are configuration reloads.
type CredentialStore struct {
	mu    sync.RWMutex
	creds map[string]*AuthInfo
}

var (
	credOnce  sync.Once
	credStore *CredentialStore
)

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		creds: make(map[string]*AuthInfo),
	}
}

// GlobalCredentials returns the process-wide store shared by all endpoints.
func GlobalCredentials() *CredentialStore {
	credOnce.Do(func() {
		credStore = NewCredentialStore()
	})
	return credStore
}

func (s *CredentialStore) Set(name string, auth *AuthInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[name] = auth
}

func (s *CredentialStore) Get(name string) (*AuthInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	auth, ok := s.creds[name]
	return auth, ok
}

func (s *CredentialStore) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, name)
}

// Names returns the registered endpoint names in sorted order.
func (s *CredentialStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.creds))
	for name := range s.creds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
