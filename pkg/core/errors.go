package core

// ErrorKind classifies a per-asset or per-resource failure.
type ErrorKind string

// Error kinds.
const (
	ErrorKindParse         ErrorKind = "PARSE_ERROR"
	ErrorKindOptimize      ErrorKind = "OPTIMIZE_ERROR"
	ErrorKindCycle         ErrorKind = "CYCLE_ERROR"
	ErrorKindDatabase      ErrorKind = "DATABASE_ERROR"
	ErrorKindMiscellaneous ErrorKind = "MISCELLANEOUS_ERROR"
)

// ErrorDetail is the structured payload of an AssetError.
type ErrorDetail struct {
	Kind      ErrorKind `json:"kind" yaml:"kind"`
	Message   string    `json:"message" yaml:"message"`
	Traceback string    `json:"traceback,omitempty" yaml:"traceback,omitempty"`
	Dialect   string    `json:"dialect,omitempty" yaml:"dialect,omitempty"`
}
