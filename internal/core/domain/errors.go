package domain

import "errors"

var (
	// ErrPermissionDenied is reported when the device refuses location access.
	// Recoverable: downstream computation falls back to the default region.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrFetchFailed is returned only when both the primary and the secondary
	// candidate query paths failed.
	ErrFetchFailed = errors.New("candidate fetch failed")

	// ErrPresenceCommitFailed wraps a remote write failure on commit. The draft is kept.
	ErrPresenceCommitFailed = errors.New("presence commit failed")

	// ErrMapSurfaceLoadFailed marks a rendering surface failure.
	ErrMapSurfaceLoadFailed = errors.New("map surface load failed")

	ErrInvalidEmoji      = errors.New("emoji not in allowed set")
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrInvalidRegion     = errors.New("invalid bounding region")
	ErrNotEditing        = errors.New("presence editor is not open")
	ErrNotFound          = errors.New("not found")
)
