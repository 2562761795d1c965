// Package style turns a persona role and raw text into styled text: the
// speaker identity tag plus prosody markers a neural engine understands.
package style

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"
)

// DefaultRole is used when a catalog does not name a default profile.
const DefaultRole = "oracle"

var ErrUnknownProfile = errors.New("unknown voice profile")

// Profile is the voice configuration for one persona role.
type Profile struct {
	Role    string   `yaml:"role" json:"role"`
	Speaker string   `yaml:"speaker" json:"speaker"`
	Tempo   float64  `yaml:"tempo" json:"tempo"`
	Pitch   float64  `yaml:"pitch" json:"pitch"`
	Emotion string   `yaml:"emotion" json:"emotion,omitempty"`
	Markers []string `yaml:"markers" json:"markers"`
	Intro   string   `yaml:"intro" json:"intro,omitempty"`
	Default bool     `yaml:"default" json:"default"`
}

// SpeakerID is the identity written into the speaker tag.
func (p Profile) SpeakerID() string {
	if p.Speaker != "" {
		return p.Speaker
	}
	return p.Role
}

func (p Profile) clone() Profile {
	p.Markers = slices.Clone(p.Markers)
	return p
}

type table struct {
	byRole      map[string]Profile
	order       []string
	defaultRole string
}

// Resolver maps roles to profiles. The table is swapped atomically on reload
// so lookups never take a lock.
type Resolver struct {
	current atomic.Pointer[table]
}

// NewResolver builds a resolver from the given profiles. defaultRole may be
// empty, in which case a profile flagged default or the "oracle" profile is used.
func NewResolver(profiles []Profile, defaultRole string) (*Resolver, error) {
	r := &Resolver{}
	if err := r.Replace(profiles, defaultRole); err != nil {
		return nil, err
	}
	return r, nil
}

// Replace validates and installs a new profile table.
func (r *Resolver) Replace(profiles []Profile, defaultRole string) error {
	t := &table{byRole: make(map[string]Profile, len(profiles))}
	for i, p := range profiles {
		if p.Role == "" {
			return fmt.Errorf("profile %d: role is required", i)
		}
		if _, dup := t.byRole[p.Role]; dup {
			return fmt.Errorf("profile %q defined twice", p.Role)
		}
		t.byRole[p.Role] = p.clone()
		t.order = append(t.order, p.Role)
		if defaultRole == "" && p.Default {
			defaultRole = p.Role
		}
	}
	if defaultRole == "" {
		if _, ok := t.byRole[DefaultRole]; ok {
			defaultRole = DefaultRole
		}
	}
	if defaultRole != "" {
		if _, ok := t.byRole[defaultRole]; !ok {
			return fmt.Errorf("default role %q has no profile", defaultRole)
		}
	}
	t.defaultRole = defaultRole
	r.current.Store(t)
	return nil
}

// Resolve returns the profile for role, or the default profile when the role
// is not configured.
func (r *Resolver) Resolve(role string) (Profile, error) {
	return r.ResolveFor(role, false)
}

// ResolveFor is Resolve with the caller's is-default-persona flag.
func (r *Resolver) ResolveFor(role string, useDefault bool) (Profile, error) {
	t := r.current.Load()
	if !useDefault {
		if p, ok := t.byRole[role]; ok {
			return p.clone(), nil
		}
	}
	if t.defaultRole == "" {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, role)
	}
	return t.byRole[t.defaultRole].clone(), nil
}

// Profiles lists the configured profiles in catalog order.
func (r *Resolver) Profiles() []Profile {
	t := r.current.Load()
	out := make([]Profile, 0, len(t.order))
	for _, role := range t.order {
		out = append(out, t.byRole[role].clone())
	}
	return out
}

// DefaultRole returns the role used for unrecognized personas.
func (r *Resolver) DefaultRole() string {
	return r.current.Load().defaultRole
}

// ApplyStyle prefixes the speaker tag, opens the utterance with the first
// marker and cycles the remaining markers in front of each later sentence.
// Identical inputs always produce identical output.
func ApplyStyle(p Profile, text string) string {
	sentences := splitSentences(strings.Join(strings.Fields(text), " "))
	markers := make([]string, 0, len(p.Markers))
	for _, m := range p.Markers {
		if m = normalizeMarker(m); m != "" {
			markers = append(markers, m)
		}
	}

	var b strings.Builder
	b.WriteString("[speaker:")
	b.WriteString(p.SpeakerID())
	b.WriteString("]")
	if len(markers) > 0 {
		b.WriteString(" ")
		b.WriteString(markers[0])
	}
	rest := markers
	if len(rest) > 0 {
		rest = rest[1:]
	}
	for i, s := range sentences {
		if i > 0 && len(rest) > 0 {
			b.WriteString(" ")
			b.WriteString(rest[(i-1)%len(rest)])
		}
		b.WriteString(" ")
		b.WriteString(s)
	}
	return b.String()
}

var tagPattern = regexp.MustCompile(`\[[^\[\]]*\]`)

// StripMarkup removes bracket tags for engines that would read them aloud.
func StripMarkup(text string) string {
	return strings.Join(strings.Fields(tagPattern.ReplaceAllString(text, " ")), " ")
}

func normalizeMarker(m string) string {
	m = strings.TrimSpace(m)
	if m == "" {
		return ""
	}
	if !strings.HasPrefix(m, "[") {
		m = "[" + strings.Trim(m, "[]") + "]"
	}
	return m
}

// splitSentences breaks on ., ! or ? followed by a space. The input has
// already had its whitespace collapsed.
func splitSentences(text string) []string {
	if text == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		switch text[i] {
		case '.', '!', '?':
			if text[i+1] == ' ' {
				out = append(out, text[start:i+1])
				start = i + 2
			}
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
