// Package escape parses the widget control sequence's wire format and
// dispatches create/update/delete operations to package widget and package
// plugin, per spec.md §4.F.
//
// Wire format (payload after the vendor prefix, as the host's OSC handler
// would deliver it — ESC ] VENDOR ; ... ST is stripped by the caller):
//
//	VENDOR ; PLUGIN ; A ; x ; y ; w ; h ; PAYLOAD*   create Absolute
//	VENDOR ; PLUGIN ; R ; x ; y ; w ; h ; PAYLOAD*   create Relative
//	VENDOR ; PLUGIN ; U ; id ; PAYLOAD*              update
//	VENDOR ; PLUGIN ; D ; id                         delete
package escape

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultVendorID is the fixed integer identifying this system's OSC
// sequences, recovered from original_source/src/decorator/DecoratorManager.h
// ("YETTY_OSC_VENDOR_ID = 99999"). spec.md leaves VENDOR abstract; this
// module pins the original's concrete value as a default while leaving
// Router.VendorID configurable.
const DefaultVendorID = 99999

// Op identifies the operation letter of a parsed sequence.
type Op byte

const (
	OpCreateAbsolute Op = 'A'
	OpCreateRelative Op = 'R'
	OpUpdate         Op = 'U'
	OpDelete         Op = 'D'
)

var (
	// ErrOtherVendor is returned when the sequence's vendor field does not
	// match the router's configured VendorID; such sequences must be passed
	// through untouched by the caller.
	ErrOtherVendor = errors.New("escape: sequence belongs to another vendor")

	// ErrMalformed is returned when a recognized-vendor sequence does not
	// match any operation's fixed schema.
	ErrMalformed = errors.New("escape: malformed sequence")
)

// Command is a fully parsed widget control sequence.
type Command struct {
	Plugin string
	Op     Op

	// X, Y, Width, Height are populated for create operations only.
	X, Y          int32
	Width, Height uint32

	// ID is populated for update and delete operations only.
	ID uint32

	// Payload is the raw bytes after the Nth semicolon, exactly as
	// received; Parse does not decode it. Router.Dispatch passes it
	// through Base94Decode before handing it to the widget host.
	Payload []byte
}

// Parse decodes a semicolon-delimited sequence into a Command. vendorID is
// typically DefaultVendorID; a mismatched vendor field yields ErrOtherVendor
// so the caller can pass the sequence through unhandled.
func Parse(sequence string, vendorID int) (Command, error) {
	fields := strings.SplitN(sequence, ";", 4)
	if len(fields) < 3 {
		return Command{}, ErrMalformed
	}

	v, err := strconv.Atoi(fields[0])
	if err != nil {
		return Command{}, fmt.Errorf("%w: vendor field %q not numeric", ErrMalformed, fields[0])
	}
	if v != vendorID {
		return Command{}, ErrOtherVendor
	}

	plugin := fields[1]
	if len(fields[2]) != 1 {
		return Command{}, fmt.Errorf("%w: operation field must be a single letter", ErrMalformed)
	}
	op := Op(fields[2][0])
	rest := ""
	if len(fields) == 4 {
		rest = fields[3]
	}

	switch op {
	case OpCreateAbsolute, OpCreateRelative:
		return parseCreate(plugin, op, rest)
	case OpUpdate:
		return parseUpdate(plugin, op, rest)
	case OpDelete:
		return parseDelete(plugin, op, rest)
	default:
		return Command{}, fmt.Errorf("%w: unknown operation %q", ErrMalformed, string(rune(op)))
	}
}

func parseCreate(plugin string, op Op, rest string) (Command, error) {
	fields := strings.SplitN(rest, ";", 5)
	if len(fields) < 4 {
		return Command{}, fmt.Errorf("%w: create requires x;y;w;h", ErrMalformed)
	}
	x, err1 := strconv.ParseInt(fields[0], 10, 32)
	y, err2 := strconv.ParseInt(fields[1], 10, 32)
	w, err3 := strconv.ParseUint(fields[2], 10, 32)
	h, err4 := strconv.ParseUint(fields[3], 10, 32)
	if err := firstErr(err1, err2, err3, err4); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var payload []byte
	if len(fields) == 5 {
		payload = []byte(fields[4])
	}

	return Command{
		Plugin:  plugin,
		Op:      op,
		X:       int32(x),
		Y:       int32(y),
		Width:   uint32(w),
		Height:  uint32(h),
		Payload: payload,
	}, nil
}

func parseUpdate(plugin string, op Op, rest string) (Command, error) {
	fields := strings.SplitN(rest, ";", 2)
	if len(fields) < 1 || fields[0] == "" {
		return Command{}, fmt.Errorf("%w: update requires id", ErrMalformed)
	}
	id, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var payload []byte
	if len(fields) == 2 {
		payload = []byte(fields[1])
	}
	return Command{Plugin: plugin, Op: op, ID: uint32(id), Payload: payload}, nil
}

func parseDelete(plugin string, op Op, rest string) (Command, error) {
	if rest == "" {
		return Command{}, fmt.Errorf("%w: delete requires id", ErrMalformed)
	}
	id, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Command{Plugin: plugin, Op: op, ID: uint32(id)}, nil
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
