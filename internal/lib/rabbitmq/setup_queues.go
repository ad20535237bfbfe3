package rabbitmq

import (
	"time"

	"github.com/streadway/amqp"
)

// GenerationExchange обменник задач генерации.
const GenerationExchange = "generation"

// GenerationKinds ключи маршрутизации задач генерации.
var GenerationKinds = []string{"itinerary", "video", "chat"}

type QueueConfig struct {
	QueueName  string
	RoutingKey string
	Args       amqp.Table
}

// QueueName рабочая очередь для типа задачи.
func QueueName(kind string) string {
	return "generation." + kind
}

// RetryQueueName очередь отложенного повтора. Сообщения лежат в ней TTL
// и через dead-letter возвращаются в обменник генерации.
func RetryQueueName(kind string) string {
	return "generation." + kind + ".retry"
}

// GetGenerationQueues возвращает рабочие очереди и очереди повторов
// с задержками из retryDelays. Тип без задержки получает 30 секунд.
func GetGenerationQueues(retryDelays map[string]time.Duration) []QueueConfig {
	queues := make([]QueueConfig, 0, len(GenerationKinds)*2)
	for _, kind := range GenerationKinds {
		delay, ok := retryDelays[kind]
		if !ok || delay <= 0 {
			delay = 30 * time.Second
		}
		queues = append(queues,
			QueueConfig{QueueName: QueueName(kind), RoutingKey: kind},
			QueueConfig{
				QueueName: RetryQueueName(kind),
				Args: amqp.Table{
					"x-message-ttl":             int32(delay / time.Millisecond),
					"x-dead-letter-exchange":    GenerationExchange,
					"x-dead-letter-routing-key": kind,
				},
			},
		)
	}
	return queues
}
