package sfu

// Notifier pushes state-change notifications to the control plane on
// behalf of rooms and peers. A nil Notifier discards everything, which
// keeps the core usable as a plain library.
type Notifier struct {
	channel *Channel
}

func NewNotifier(channel *Channel) *Notifier {
	return &Notifier{channel: channel}
}

func (n *Notifier) Emit(targetId uint32, event string, data interface{}) {
	if n == nil || n.channel == nil {
		return
	}
	n.channel.Notify(targetId, event, data)
}
