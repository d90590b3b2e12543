package uploader

import (
	"encoding/json"
)

// TypeDownloaded is the notification a viewer sends to the host after a
// bundle was absorbed into its own journal.
const TypeDownloaded = "DOWNLOADED"

// envelope is the wire shape of a notification message.
type envelope struct {
	TypeMessage string `json:"type_message"`
	Message     any    `json:"message"`
}

// Messenger delivers one-shot JSON messages to the host's notification
// endpoint.
type Messenger struct {
	url  string
	dial func(url string) (MessageConn, error)
}

// NewMessenger targets the ws://host:port/websocket endpoint.
func NewMessenger(url string) *Messenger {
	return &Messenger{url: url, dial: Dial}
}

// Send dials the endpoint, writes {type_message, message} and closes. No
// reply is awaited: the host does not acknowledge notifications.
func (m *Messenger) Send(typeMessage string, message any) error {
	conn, err := m.dial(m.url)
	if err != nil {
		return err
	}
	defer conn.Close()

	b, err := json.Marshal(envelope{TypeMessage: typeMessage, Message: message})
	if err != nil {
		return err
	}
	return conn.Send(string(b))
}
