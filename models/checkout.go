package models

import (
	"errors"
	"strings"
)

// Metadata keys written into the checkout session and read back from the
// completion event. They match the keys the storefront has always used.
const (
	MetadataName     = "name"
	MetadataEmail    = "email"
	MetadataCourseID = "courseId"
)

// CheckoutRequest is the body of POST /api/create-checkout-session. It has no
// price field; prices come from the catalog.
type CheckoutRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	CourseID string `json:"courseId"`
}

// CheckoutResponse is returned after a hosted checkout session is created.
type CheckoutResponse struct {
	URL string `json:"url"`
}

// VerifyRequest is the body of POST /api/verify-code.
type VerifyRequest struct {
	Code     string `json:"code"`
	CourseID string `json:"courseId,omitempty"`
}

// VerifyResponse reports whether a code unlocks a course.
type VerifyResponse struct {
	Valid    bool   `json:"valid"`
	CourseID string `json:"courseId,omitempty"`
}

// CheckoutMetadata is the purchaser correlation data carried through the
// payment provider.
type CheckoutMetadata struct {
	Name     string
	Email    string
	CourseID string
}

// ToMap renders the metadata in its wire form.
func (m CheckoutMetadata) ToMap() map[string]string {
	return map[string]string{
		MetadataName:     m.Name,
		MetadataEmail:    m.Email,
		MetadataCourseID: m.CourseID,
	}
}

// Contact is buyer data the provider collected itself on the hosted page.
type Contact struct {
	Email string
	Name  string
}

// ErrMissingCourseID means the event cannot be tied to a course.
var ErrMissingCourseID = errors.New("checkout metadata has no course id")

// ResolveMetadata recovers CheckoutMetadata from raw event metadata. Email and
// name fall back to the provider's contact fields. A missing course is never
// defaulted: ErrMissingCourseID is returned along with whatever was recovered.
func ResolveMetadata(raw map[string]string, contact Contact) (CheckoutMetadata, error) {
	m := CheckoutMetadata{
		Name:     strings.TrimSpace(raw[MetadataName]),
		Email:    strings.TrimSpace(raw[MetadataEmail]),
		CourseID: strings.TrimSpace(raw[MetadataCourseID]),
	}
	if m.Email == "" {
		m.Email = strings.TrimSpace(contact.Email)
	}
	if m.Name == "" {
		m.Name = strings.TrimSpace(contact.Name)
	}
	if m.CourseID == "" {
		return m, ErrMissingCourseID
	}
	return m, nil
}
