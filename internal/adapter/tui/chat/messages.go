// Package chat implements the Bubble Tea presentation adapter: it renders
// bus traffic as a chat log and publishes what the user types.
package chat

import "scriptchat/internal/domain"

// BusMsg carries a message delivered to the presentation consumer.
type BusMsg struct {
	Message domain.Message
}

// BusClosedMsg signals that the bus stopped delivering; the UI exits.
type BusClosedMsg struct{}

// QuitMsg signals the program to exit.
type QuitMsg struct{}
