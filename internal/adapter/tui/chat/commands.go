package chat

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"scriptchat/internal/domain"
	"scriptchat/internal/usecase/eventbus"
)

// publishCmd hands the user's text to the bus outside the update loop.
func publishCmd(pub domain.Publisher, text string) tea.Cmd {
	return func() tea.Msg {
		pub.Publish(domain.NewMessage(domain.RoleUser, domain.End(text)))
		return nil
	}
}

// forward relays inbox messages to send until ctx ends or the inbox closes.
// A closed inbox is reported as BusClosedMsg.
func forward(ctx context.Context, in *eventbus.Inbox, send func(tea.Msg)) {
	for {
		msg, err := in.Recv(ctx)
		if err != nil {
			if errors.Is(err, eventbus.ErrClosed) {
				send(BusClosedMsg{})
			}
			return
		}
		send(BusMsg{Message: msg})
	}
}
