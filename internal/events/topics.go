package events

type Resource string

const (
	ResourceStock   Resource = "stock"
	ResourcePayment Resource = "payment"
	ResourceOrder   Resource = "order"
)

const (
	TopicStockCommands   = "stock.commands"
	TopicPaymentCommands = "payment.commands"
	TopicOrderCommands   = "order.commands"

	TopicStockEvents   = "stock.events"
	TopicPaymentEvents = "payment.events"
	TopicOrderEvents   = "order.events"
)

func CommandTopic(r Resource) string { return string(r) + ".commands" }

func ResultTopic(r Resource) string { return string(r) + ".events" }

// ResultTopics lists the topics the orchestrator consumes.
func ResultTopics() []string {
	return []string{TopicStockEvents, TopicPaymentEvents, TopicOrderEvents}
}

func DLQTopic(topic string) string { return topic + ".dlq" }

// Partition key = transaction_id, so every message of one saga keeps its order within a topic.
func PartitionKey(transactionID string) []byte { return []byte(transactionID) }
