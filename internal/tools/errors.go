package tools

import "errors"

// Errors from registering and executing lab tools. Execution errors reach the
// model as "Error: <message>" text, so the messages name the tool argument or
// tool the model got wrong.
var (
	// ErrToolNotFound means the model called a name that is not registered.
	ErrToolNotFound = errors.New("tool not found")

	ErrToolNameEmpty  = errors.New("lab tool has no name")
	ErrToolExecuteNil = errors.New("lab tool has no handler")

	// ErrToolAlreadyRegistered rejects a second tool with the same name, which
	// would make the definitions sent to the model ambiguous.
	ErrToolAlreadyRegistered = errors.New("tool name already registered")

	// ErrMissingRequiredArg is wrapped with the schema's argument name.
	ErrMissingRequiredArg = errors.New("missing required argument")

	// ErrInvalidArgType means arguments could not be bound to the tool's
	// request struct.
	ErrInvalidArgType = errors.New("argument does not fit the tool's request")
)
