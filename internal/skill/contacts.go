package skill

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// Contact is one row of the contact directory.
type Contact struct {
	Name  string `json:"Name"`
	Email string `json:"Email"`
	URL   string `json:"Url"`
	Bio   string `json:"Bio"`
}

const directoryHeader = "Name,Email,Url,Bio"

const defaultDirectory = directoryHeader + `
Sarah Chen,sarah@innovateai.tech,https://innovateai.tech,"Founder of InnovateAI, building AI solutions for mid-market retailers"
Marcus Webb,marcus.webb@northwind.io,https://northwind.io,"VP Engineering at Northwind, scaling data platforms"
Priya Raman,priya@lumenventures.vc,https://lumenventures.vc,"Partner at Lumen Ventures focused on developer tools"
Daniel Okafor,daniel@okafor.consulting,https://okafor.consulting,"Independent go-to-market advisor for B2B SaaS"
Elena Rossi,elena.rossi@brightpath.edu,https://brightpath.edu,"Head of Partnerships at BrightPath Learning"
`

// Directory is the parsed contact list.
type Directory struct {
	contacts []Contact
	raw      string
}

// ParseDirectory reads a Name,Email,Url,Bio CSV. Columns are matched by header name.
func ParseDirectory(r io.Reader) (*Directory, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse directory: %w", err)
	}
	if len(rows) == 0 {
		return &Directory{raw: string(data)}, nil
	}

	idx := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := idx["name"]; !ok {
		return nil, fmt.Errorf("parse directory: missing Name column")
	}
	col := func(row []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	d := &Directory{raw: string(data)}
	for _, row := range rows[1:] {
		c := Contact{
			Name:  col(row, "name"),
			Email: col(row, "email"),
			URL:   col(row, "url"),
			Bio:   col(row, "bio"),
		}
		if c.Name == "" {
			continue
		}
		d.contacts = append(d.contacts, c)
	}
	return d, nil
}

// DefaultDirectory returns the built-in contact list.
func DefaultDirectory() *Directory {
	d, err := ParseDirectory(strings.NewReader(defaultDirectory))
	if err != nil {
		panic(err)
	}
	return d
}

// Search returns contacts whose name contains the query, case-insensitively.
// An empty query returns every contact.
func (d *Directory) Search(query string) []Contact {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]Contact, 0, len(d.contacts))
	for _, c := range d.contacts {
		if q == "" || strings.Contains(strings.ToLower(c.Name), q) {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of contacts.
func (d *Directory) Len() int { return len(d.contacts) }

// CSV returns the directory as it was loaded.
func (d *Directory) CSV() string { return d.raw }
