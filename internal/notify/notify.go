package notify

import (
	"context"
	"errors"
	"log"

	"github.com/TobiSchelling/scoopfeed/internal/config"
	"github.com/TobiSchelling/scoopfeed/internal/database"
)

// Publisher announces newly stored articles.
type Publisher interface {
	Publish(ctx context.Context, articles []database.Article) error
	Close() error
}

// Fanout sends to every publisher. Failures are logged and joined.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, articles []database.Article) error {
	if len(articles) == 0 {
		return nil
	}
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, articles); err != nil {
			log.Printf("Publish failed: %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// FromConfig builds the publishers enabled in configuration. A publisher
// that cannot be created is logged and left out.
func FromConfig(cfg *config.Config, secrets config.Secrets) Fanout {
	var out Fanout
	if k := cfg.Notify.Kafka; k.Enabled && len(k.Brokers) > 0 {
		out = append(out, NewKafkaPublisher(k.Brokers, k.Topic))
		log.Printf("Publishing article events to Kafka topic %s", k.Topic)
	}
	if tg := cfg.Notify.Telegram; tg.Enabled {
		n, err := NewTelegramNotifier(secrets.TelegramToken, tg.ChatID, "")
		if err != nil {
			log.Printf("Telegram notifier disabled: %v", err)
		} else {
			out = append(out, n)
		}
	}
	return out
}
