package events

import (
	"lottery-backend/internal/models"
)

// Publisher sink for bridge events on the message bus
type Publisher interface {
	PublishBridgeEvent(event *models.BridgeEvent) error
}

// NATSForwarder handler republishing every event. A publish failure is
// reported to the bus like any observer failure and does not stop delivery.
func NATSForwarder(p Publisher) Handler {
	return func(event models.BridgeEvent) error {
		return p.PublishBridgeEvent(&event)
	}
}
