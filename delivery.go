package linebus

// DeliveryMode selects how a subscription's messages reach the caller.
type DeliveryMode uint8

const (
	// Pull buffers delivered messages in the subscription's own queue;
	// the caller drains them with Subscription.Next.
	Pull DeliveryMode = iota

	// Push hands each delivered message to a handler owned by a
	// Dispatcher, on the Dispatcher's single-threaded handler loop.
	Push
)

func (m DeliveryMode) String() string {
	if m == Push {
		return "push"
	}
	return "pull"
}
