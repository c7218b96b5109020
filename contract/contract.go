//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-sync/domain"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Listener receives everything a live subscription produces.
// Both callbacks may be invoked from any goroutine.
type Listener struct {
	OnChange func(change domain.Change)
	OnStatus func(status domain.TransportStatus, err error)
}

// ISubscription is one live-change registration on the remote store.
type ISubscription interface {
	Unsubscribe() error
}

// IRemoteStore is the authoritative store the core mirrors.
// ListMessages returns newest first; ListChannels is ordered by name.
type IRemoteStore interface {
	ListChannels(ctx context.Context, memberID string) ([]domain.Channel, error)
	GetChannel(ctx context.Context, id domain.ChannelID) (domain.Channel, error)
	ListMessages(ctx context.Context, query domain.MessageQuery) ([]domain.Message, error)
	InsertMessage(ctx context.Context, message domain.NewMessage) (domain.Message, error)
	Subscribe(ctx context.Context, request domain.SubscribeRequest, listener Listener) (ISubscription, error)
}

// IChangeBus carries change events from the store's writers to its subscribers.
type IChangeBus interface {
	Publish(ctx context.Context, change domain.Change) error
	Subscribe(ctx context.Context, request domain.SubscribeRequest, listener Listener) (ISubscription, error)
	Close() error
}

// IIdentityProvider supplies the current user and announces login/logout.
// An empty user id means nobody is logged in.
type IIdentityProvider interface {
	CurrentUserID() string
	Watch(fn func(userID string)) (cancel func())
}
