package model

import "errors"

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")

	// ErrNotConnected is returned when a message is sent while the backend socket is down.
	ErrNotConnected = errors.New("backend not connected")
	// ErrConnectionLost is returned when the backend socket goes away mid-operation.
	ErrConnectionLost = errors.New("backend connection lost")
	// ErrRequestTimeout is returned when a correlated reply did not arrive in time.
	ErrRequestTimeout = errors.New("request timed out")
	// ErrInstallRejected is returned when the backend refuses an install intent.
	ErrInstallRejected = errors.New("install rejected")
	// ErrUnsupportedArchive is returned when a runtime archive format can't be extracted.
	ErrUnsupportedArchive = errors.New("unsupported archive")
	// ErrNoDownloadLink is returned when the runtime distribution has no binary for the host.
	ErrNoDownloadLink = errors.New("no download link")
	// ErrHandshakeTimeout is returned when the backend didn't report readiness in time.
	ErrHandshakeTimeout = errors.New("backend handshake timed out")
)
