package cache

import (
	"errors"
	"fmt"
)

var (
	ErrParse         = errors.New("parse tag header error")
	ErrUnknownPacket = errors.New("unknown packet type")
)

// ParseError is returned when the tag header of an audio or video payload
// can not be decoded. errors.Is(err, ErrParse) reports true for it.
type ParseError struct {
	Media string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s tag header: %v", e.Media, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}
