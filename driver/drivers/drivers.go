// Package drivers imports all built-in drivers for auto-registration.
// Import this package to have every driver registered with the default registry.
package drivers

import (
	// Import all drivers for side-effect registration
	_ "github.com/ricco24/hermes/driver/amqp"
	_ "github.com/ricco24/hermes/driver/channel"
	_ "github.com/ricco24/hermes/driver/jetstream"
	_ "github.com/ricco24/hermes/driver/kafka"
	_ "github.com/ricco24/hermes/driver/memory"
	_ "github.com/ricco24/hermes/driver/nats"
	_ "github.com/ricco24/hermes/driver/postgres"
	_ "github.com/ricco24/hermes/driver/redis"
	_ "github.com/ricco24/hermes/driver/sqlite"
	_ "github.com/ricco24/hermes/driver/sqs"
)
