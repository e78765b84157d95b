package ports

import "github.com/bft-labs/predem/pkg/log"

// Logger is the structured logging port. It is the same interface as
// pkg/log.Logger so library users can pass their own implementation.
type Logger = log.Logger

// Field is a structured log field.
type Field = log.Field

// Field constructors re-exported for internal packages.
var (
	String   = log.String
	Int      = log.Int
	Int64    = log.Int64
	Uint64   = log.Uint64
	Float64  = log.Float64
	Bool     = log.Bool
	Duration = log.Duration
	Time     = log.Time
	Strings  = log.Strings
	Err      = log.Err
	Any      = log.Any
)
