package types

import "errors"

// Sentinel errors for cascade operations.
var (
	// ErrUnsupportedValue indicates a Go value with no value-tree representation.
	ErrUnsupportedValue = errors.New("unsupported value type")

	// ErrPayloadTooLarge indicates the event payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")

	// ErrPayloadNotObject indicates an event payload that is not an object.
	ErrPayloadNotObject = errors.New("event payload must be an object")

	// ErrPathTooDeep indicates an accessor exceeds MaxPathDepth.
	ErrPathTooDeep = errors.New("accessor exceeds maximum depth")

	// ErrInvalidAccessor indicates a malformed ${...} expression.
	ErrInvalidAccessor = errors.New("invalid accessor expression")

	// ErrUnterminatedTemplate indicates a "${" without a closing "}".
	ErrUnterminatedTemplate = errors.New("unterminated template expression")

	// ErrInvalidOperator indicates an unknown constraint or comparison type.
	ErrInvalidOperator = errors.New("invalid operator")

	// ErrMissingOperand indicates a comparison without a required operand.
	ErrMissingOperand = errors.New("missing operand")

	// ErrInvalidRegex indicates a pattern that does not compile or is too long.
	ErrInvalidRegex = errors.New("invalid regex")

	// ErrInvalidName indicates a rule, extractor, or action id with forbidden characters.
	ErrInvalidName = errors.New("invalid name")

	// ErrDuplicateName indicates two rules or extractors sharing a name.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrConstraintTooDeep indicates a WHERE tree exceeding MaxConstraintDepth.
	ErrConstraintTooDeep = errors.New("constraint tree exceeds maximum depth")
)
