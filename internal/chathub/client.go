package chathub

import "anonchat/backend/internal/models"

// Client is one live connection of a user. The hub writes frames to its send
// channel; the client feeds what it reads into the hub's IncomingCh.
type Client interface {
	// GetUserID returns the user the connection belongs to.
	GetUserID() string
	// GetSendChannel returns the channel the hub pushes frames into.
	GetSendChannel() chan<- models.ServerFrame

	// Run starts the read and write pumps.
	Run()
	// Close stops the write pump, which in turn closes the connection.
	Close()
}

// Inbound is a frame received from a connected user.
type Inbound struct {
	UserID string
	Frame  models.ClientFrame
}
