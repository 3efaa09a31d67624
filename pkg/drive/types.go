package drive

// Item is a file or folder returned by the source listing API.
type Item struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	ModifiedTime string `json:"modifiedTime"`
	Size         int64  `json:"size,string,omitempty"`
	Parents      []string
}

const (
	// MimeTypeFolder marks folder items in list responses.
	MimeTypeFolder = "application/vnd.google-apps.folder"
	// MimeTypeCSV marks plain CSV files.
	MimeTypeCSV = "text/csv"
)

// IsFolder reports whether the item is a folder.
func (i Item) IsFolder() bool {
	return i.MimeType == MimeTypeFolder
}

// IsCSV reports whether the item is a CSV file, by MIME type or by the .csv
// suffix vendors sometimes upload with a generic content type.
func (i Item) IsCSV() bool {
	if i.MimeType == MimeTypeCSV {
		return true
	}
	n := len(i.Name)
	return n > 4 && (i.Name[n-4:] == ".csv" || i.Name[n-4:] == ".CSV")
}

// Change is a single entry from the changes feed.
type Change struct {
	FileID  string `json:"fileId"`
	Removed bool   `json:"removed"`
	File    *Item  `json:"file,omitempty"`
}

// ChangeList is one page of the changes feed plus the cursor to resume from.
type ChangeList struct {
	Changes           []Change `json:"changes"`
	NextPageToken     string   `json:"nextPageToken"`
	NewStartPageToken string   `json:"newStartPageToken"`
}
