package services

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrNotOwner          = errors.New("not the message owner")
	ErrNotEditable       = errors.New("only text messages can be edited")
	ErrEditWindowExpired = errors.New("edit window expired")
	ErrNotMember         = errors.New("not a room member")
	ErrUserExists        = errors.New("username already exists")
)
