package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/TobiSchelling/scoopfeed/internal/database"
)

// ArticleEvent is the message body written for each new article.
type ArticleEvent struct {
	Type     string    `json:"type"`
	ID       string    `json:"id"`
	Link     string    `json:"link"`
	Title    string    `json:"title"`
	Category string    `json:"category"`
	Source   string    `json:"source,omitempty"`
	PubDate  time.Time `json:"pub_date"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one event per article, keyed by article id.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}}
}

func (k *KafkaPublisher) Publish(ctx context.Context, articles []database.Article) error {
	msgs := make([]kafka.Message, 0, len(articles))
	for _, a := range articles {
		ev := ArticleEvent{
			Type:    "article.ingested",
			ID:      a.ID,
			Link:    a.Link,
			Title:   a.Title,
			Source:  a.Source,
			PubDate: a.PubDate,
		}
		if a.Category != nil {
			ev.Category = *a.Category
		}
		value, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encoding event: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(a.ID), Value: value, Time: time.Now()})
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("writing %d events to kafka: %w", len(msgs), err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
