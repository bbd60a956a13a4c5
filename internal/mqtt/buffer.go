package mqtt

// outboxMsg is a serialized message held while the broker is unreachable.
type outboxMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a bounded FIFO of messages waiting for a connection. When full
// the oldest message is dropped. Not safe for concurrent use.
type outbox struct {
	msgs    []outboxMsg
	limit   int
	dropped int // since last flush
}

func newOutbox(limit int) *outbox {
	if limit < 1 {
		limit = 1
	}
	return &outbox{limit: limit}
}

func (o *outbox) add(m outboxMsg) {
	if len(o.msgs) == o.limit {
		copy(o.msgs, o.msgs[1:])
		o.msgs = o.msgs[:len(o.msgs)-1]
		o.dropped++
	}
	o.msgs = append(o.msgs, m)
}

// flush returns the queued messages oldest first and how many were dropped,
// then empties the outbox.
func (o *outbox) flush() ([]outboxMsg, int) {
	msgs, dropped := o.msgs, o.dropped
	o.msgs = nil
	o.dropped = 0
	return msgs, dropped
}

func (o *outbox) len() int {
	return len(o.msgs)
}
