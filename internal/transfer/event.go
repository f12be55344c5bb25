package transfer

import "time"

// EventType identifies what an Event reports.
type EventType string

const (
	ThumbnailSaved    EventType = "thumbnail_saved"
	ThumbnailFailed   EventType = "thumbnail_failed"
	FullImageSaved    EventType = "full_image_saved"
	FullImageFailed   EventType = "full_image_failed"
	GalleryImageSaved EventType = "gallery_image_saved"
	AmbienceApplied   EventType = "ambience_applied"
)

// Event is the completion record of a request.
type Event struct {
	Type EventType
	ID   uint64 // Request id, zero for synchronous operations
	Name string // Image name as given by the caller
	File string // Base name of the written file
	Path string // Absolute path of the written file
	Err  error  // Set on failure events
	At   time.Time
}

// Failed reports whether the event carries an error.
func (e Event) Failed() bool {
	return e.Err != nil
}
