package signal

// Message types of the pub/sub protocol.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePublish     = "publish"
	TypePing        = "ping"
	TypePong        = "pong"
)

// Message is one JSON frame. Publish frames are relayed as received, with
// "clients" set to the number of subscribers of the topic.
type Message map[string]any

func (m Message) Type() string {
	s, _ := m["type"].(string)
	return s
}

func (m Message) Topic() string {
	s, _ := m["topic"].(string)
	return s
}

// Topics returns the string entries of the "topics" list.
func (m Message) Topics() []string {
	raw, _ := m["topics"].([]any)
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if s, ok := t.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
