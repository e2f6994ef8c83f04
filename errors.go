package postcache

import "errors"

var (
	ErrPostNotFound    = errors.New("post not found")
	ErrInvalidPost     = errors.New("invalid post")
	ErrMalformedPost   = errors.New("malformed post document")
	ErrInvalidComment  = errors.New("invalid comment")
	ErrCommentNotFound = errors.New("comment not found")
	ErrCommentsClosed  = errors.New("comments are closed")
	ErrSearchDisabled  = errors.New("search is not enabled")
	ErrInvalidAsset    = errors.New("invalid asset")
)
