package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer событий синхронизации, если brokers не пустой.
// Возвращает nil, nil если brokers пустой; при ошибке сервис продолжает работу без Kafka.
func initKafkaProducer(brokers []string, topic string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, topic, logger.WithField("component", "kafka-producer"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without sync events")
		return nil, err
	}

	logger.WithFields(log.Fields{"brokers": brokers, "topic": topic}).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
