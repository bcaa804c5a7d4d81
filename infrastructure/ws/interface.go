package ws

import "context"

type IHub interface {
	// Run serves registrations until ctx is done.
	Run(ctx context.Context) error
	RegisterClient(client *UserClient)
	UnregisterClient(client *UserClient)
	SendToClient(userId string, message []byte)
	// SendToRoom delivers message to every client that joined room, except the
	// clients of exceptUserId.
	SendToRoom(room string, message []byte, exceptUserId string)
	Broadcast(message []byte)
	GetClientCount() int
	SetOnClientRegister(callback func(client *UserClient) error)
	SetOnClientUnregister(callback func(client *UserClient) error)
}
