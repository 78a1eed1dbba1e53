package pledges

const (
	TopicPledgeCreated   = "pledge.created"
	TopicPledgeFulfilled = "pledge.fulfilled"
	TopicPriceChanged    = "price.changed"
	TopicNotifyRequest   = "notify.request"
)

// Partition key keeps all events for one aggregate in order.
func PartitionKey(id string) []byte { return []byte(id) }
