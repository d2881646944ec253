package model

import "errors"

var (
	ErrDuplicateEnqueue  = errors.New("content already has an active item in this queue")
	ErrItemNotFound      = errors.New("queue item not found")
	ErrClaimConflict     = errors.New("queue claim conflict")
	ErrClaimLost         = errors.New("queue item is no longer held by this worker")
	ErrContentNotFound   = errors.New("content not found")
	ErrRepositoryWrite   = errors.New("content repository write failed")
	ErrOracleTimeout     = errors.New("moderation oracle timed out")
	ErrOracleUnavailable = errors.New("moderation oracle unavailable")
	ErrOracleRejected    = errors.New("moderation oracle rejected the request")
)
