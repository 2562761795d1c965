package registry

import "github.com/spiralogic/oraclevoice/internal/speech/engine"

// Engines is the global synthesis engine registry, keyed by engine kind.
var Engines = New[engine.Engine]()
