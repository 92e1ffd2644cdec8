// Package all registers every built-in sink. Importing it is what makes
// the configured sink names resolvable.
package all

import (
	"firestige.xyz/argus/internal/sink"
	"firestige.xyz/argus/internal/sink/console"
	"firestige.xyz/argus/internal/sink/kafka"
	"firestige.xyz/argus/internal/sink/mqtt"
	"firestige.xyz/argus/internal/sink/sqlite"
)

func init() {
	sink.Register(console.Name, console.New)
	sink.Register(kafka.Name, kafka.New)
	sink.Register(mqtt.Name, mqtt.New)
	sink.Register(sqlite.Name, sqlite.New)
}
