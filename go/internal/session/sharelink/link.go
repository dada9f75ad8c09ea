// Package sharelink models the page address that carries the current room
// code, so a fresh start with ?code=XXXX rejoins the same room.
package sharelink

import (
	"fmt"
	"net/url"
	"regexp"
)

var roomCodePattern = regexp.MustCompile(`^[0-9]{4}$`)

// ValidCode reports whether code is a 4-digit room code.
func ValidCode(code string) bool {
	return roomCodePattern.MatchString(code)
}

// Link is the address-bar equivalent. The zero value has no base and renders
// only the query.
type Link struct {
	base     url.URL
	code     string
	onChange func(string)
}

// Parse builds a Link from a page address, picking up an existing ?code=.
func Parse(raw string) (*Link, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse share link: %w", err)
	}
	code := u.Query().Get("code")
	u.RawQuery = ""
	u.Fragment = ""

	l := &Link{base: *u}
	if ValidCode(code) {
		l.code = code
	}
	return l, nil
}

// OnChange registers a callback invoked with the rendered link after every
// change, the way pushState updates the visible address.
func (l *Link) OnChange(fn func(string)) { l.onChange = fn }

// Code returns the room code, empty in the room-less form.
func (l *Link) Code() string { return l.code }

// Set points the link at a room.
func (l *Link) Set(code string) {
	l.code = code
	l.changed()
}

// Clear rewrites the link back to its room-less form.
func (l *Link) Clear() {
	l.code = ""
	l.changed()
}

// String renders the address.
func (l *Link) String() string {
	u := l.base
	if l.code != "" {
		q := url.Values{}
		q.Set("code", l.code)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (l *Link) changed() {
	if l.onChange != nil {
		l.onChange(l.String())
	}
}
