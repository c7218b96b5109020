package services

import (
	"chat-sync/contract"
	"sync"
)

// IdentityProvider is an in-memory identity source. Authentication happens
// elsewhere; this only records who is logged in and tells watchers.
type IdentityProvider struct {
	mu       sync.Mutex
	userID   string
	nextID   int
	watchers map[int]func(userID string)
}

func NewIdentityProvider(userID string) *IdentityProvider {
	return &IdentityProvider{userID: userID, watchers: make(map[int]func(string))}
}

func (p *IdentityProvider) CurrentUserID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userID
}

// Watch registers fn for every login/logout. fn runs on the caller of
// Login/Logout, after the provider lock is released.
func (p *IdentityProvider) Watch(fn func(userID string)) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	p.watchers[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.watchers, id)
	}
}

func (p *IdentityProvider) Login(userID string) { p.set(userID) }

func (p *IdentityProvider) Logout() { p.set("") }

func (p *IdentityProvider) set(userID string) {
	p.mu.Lock()
	if p.userID == userID {
		p.mu.Unlock()
		return
	}
	p.userID = userID
	watchers := make([]func(string), 0, len(p.watchers))
	for _, fn := range p.watchers {
		watchers = append(watchers, fn)
	}
	p.mu.Unlock()
	for _, fn := range watchers {
		fn(userID)
	}
}

var _ contract.IIdentityProvider = (*IdentityProvider)(nil)
