package models

import "strings"

// EvidenceData groups the optional evidence kinds for one indicator. Persisted
// marks a substructure the remote store has confirmed.
type EvidenceData struct {
	Text *TextEvidence `json:"text,omitempty"`
	Link *LinkEvidence `json:"link,omitempty"`
	File *FileEvidence `json:"file,omitempty"`
}

type TextEvidence struct {
	Description string `json:"description"`
	Persisted   bool   `json:"persisted"`
}

type LinkEvidence struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	Persisted   bool   `json:"persisted"`
}

type FileEvidence struct {
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	FileType    string `json:"fileType,omitempty"`
	ContentRef  string `json:"contentRef,omitempty"`
	Description string `json:"description,omitempty"`
	Persisted   bool   `json:"persisted"`
}

func (e EvidenceData) IsEmpty() bool {
	return e.Text == nil && e.Link == nil && e.File == nil
}

func (e EvidenceData) Clone() EvidenceData {
	var out EvidenceData
	if e.Text != nil {
		t := *e.Text
		out.Text = &t
	}
	if e.Link != nil {
		l := *e.Link
		out.Link = &l
	}
	if e.File != nil {
		f := *e.File
		out.File = &f
	}
	return out
}

// Merge overlays the substructures present in patch onto e. Kinds absent from
// the patch are kept as they are.
func (e EvidenceData) Merge(patch EvidenceData) EvidenceData {
	out := e.Clone()
	p := patch.Clone()
	if p.Text != nil {
		out.Text = p.Text
	}
	if p.Link != nil {
		out.Link = p.Link
	}
	if p.File != nil {
		out.File = p.File
	}
	return out
}

// MarkPersisted sets the persisted flag on every present substructure.
func (e *EvidenceData) MarkPersisted(persisted bool) {
	if e.Text != nil {
		e.Text.Persisted = persisted
	}
	if e.Link != nil {
		e.Link.Persisted = persisted
	}
	if e.File != nil {
		e.File.Persisted = persisted
	}
}

// Equal compares content and ignores the persisted flags.
func (e EvidenceData) Equal(o EvidenceData) bool {
	a, b := e.Clone(), o.Clone()
	a.MarkPersisted(false)
	b.MarkPersisted(false)
	return equalText(a.Text, b.Text) && equalLink(a.Link, b.Link) && equalFile(a.File, b.File)
}

func equalText(a, b *TextEvidence) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalLink(a, b *LinkEvidence) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalFile(a, b *FileEvidence) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (t *TextEvidence) HasContent() bool {
	return t != nil && strings.TrimSpace(t.Description) != ""
}

func (l *LinkEvidence) HasContent() bool {
	return l != nil && strings.TrimSpace(l.URL) != ""
}

func (f *FileEvidence) HasContent() bool {
	return f != nil && strings.TrimSpace(f.FileName) != ""
}
