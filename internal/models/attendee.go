package models

import "time"

// Attendee is a registered conference participant.
type Attendee struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email"`
	School       string    `json:"school"`
	FieldOfStudy string    `json:"field_of_study"`
	LevelOfStudy string    `json:"level_of_study"`
	LinkedIn     string    `json:"linkedin"`
	GitHub       string    `json:"github"`
	Discord      string    `json:"discord"`
	ResumeKey    string    `json:"resume_key,omitempty"`
	PhotoKey     string    `json:"photo_key,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AttendeePublic is the serialized form of an Attendee. Blob references are
// rendered as URLs, or null when absent.
type AttendeePublic struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email"`
	School       string    `json:"school"`
	FieldOfStudy string    `json:"field_of_study"`
	LevelOfStudy string    `json:"level_of_study"`
	LinkedIn     string    `json:"linkedin"`
	GitHub       string    `json:"github"`
	Discord      string    `json:"discord"`
	Resume       *string   `json:"resume"`
	Photo        *string   `json:"photo"`
	CreatedAt    time.Time `json:"created_at"`
}

// BlobURLFunc turns a stored blob reference into a URL.
type BlobURLFunc func(ref string) string

// ToPublic converts Attendee to AttendeePublic. A nil urlFor leaves references as-is.
func (a *Attendee) ToPublic(urlFor BlobURLFunc) AttendeePublic {
	return AttendeePublic{
		ID:           a.ID,
		UserID:       a.UserID,
		FirstName:    a.FirstName,
		LastName:     a.LastName,
		Email:        a.Email,
		School:       a.School,
		FieldOfStudy: a.FieldOfStudy,
		LevelOfStudy: a.LevelOfStudy,
		LinkedIn:     a.LinkedIn,
		GitHub:       a.GitHub,
		Discord:      a.Discord,
		Resume:       blobURL(a.ResumeKey, urlFor),
		Photo:        blobURL(a.PhotoKey, urlFor),
		CreatedAt:    a.CreatedAt,
	}
}

// BlobRefs returns the non-empty blob references held by the attendee.
func (a *Attendee) BlobRefs() []string {
	var refs []string
	for _, r := range []string{a.ResumeKey, a.PhotoKey} {
		if r != "" {
			refs = append(refs, r)
		}
	}
	return refs
}

func blobURL(ref string, urlFor BlobURLFunc) *string {
	if ref == "" {
		return nil
	}
	if urlFor != nil {
		ref = urlFor(ref)
	}
	return &ref
}
