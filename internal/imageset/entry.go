package imageset

// Kind distinguishes the two halves of a collection.
type Kind string

const (
	KindExisting Kind = "existing"
	KindNew      Kind = "new"
)

// ExistingImage is an image already persisted for the listing.
// ID is assigned by the server and never changes.
type ExistingImage struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Alt       string `json:"alt"`
	IsFeature bool   `json:"is_feature"`
}

// NewImage is a picked image that has not been uploaded yet.
// LocalRef is the identity of the entry.
type NewImage struct {
	LocalRef  string  `json:"local_ref"`
	MimeType  string  `json:"mime_type"`
	FileName  *string `json:"file_name"`
	Title     string  `json:"title"`
	Alt       string  `json:"alt"`
	IsFeature bool    `json:"is_feature"`
}

// Identity names one entry of the collection: an existing image by ID or a
// new image by LocalRef.
type Identity struct {
	Kind Kind   `json:"kind"`
	Key  string `json:"key"`
}

// ExistingID identifies an existing image.
func ExistingID(id string) Identity { return Identity{Kind: KindExisting, Key: id} }

// NewRef identifies a new image.
func NewRef(localRef string) Identity { return Identity{Kind: KindNew, Key: localRef} }

// IsZero reports whether the identity names nothing.
func (i Identity) IsZero() bool { return i.Kind == "" && i.Key == "" }
