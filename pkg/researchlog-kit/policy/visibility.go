package policy

import (
	"strings"

	"github.com/lessucettes/researchlog/pkg/researchlog-kit/config"
)

// Visibility controls disclosure of a profile's friend code to non-owners.
type Visibility string

const (
	VisibilityEveryone   Visibility = "everyone"
	VisibilityRegistered Visibility = "registered"
	VisibilityHidden     Visibility = "hidden"
)

// ParseVisibility maps a stored value onto the closed set. Missing and
// unrecognised values are VisibilityRegistered.
func ParseVisibility(v string) Visibility {
	switch Visibility(v) {
	case VisibilityEveryone, VisibilityRegistered, VisibilityHidden:
		return Visibility(v)
	default:
		return VisibilityRegistered
	}
}

// Profile is a stored user profile as handed over by the backend.
type Profile struct {
	UserID      string `json:"uid"`
	DisplayName string `json:"trainerName,omitempty"`
	PictureURL  string `json:"profilePicture,omitempty"`
	FriendCode  string `json:"friendCode,omitempty"`
	Email       string `json:"email,omitempty"`
	Visibility  string `json:"friendCodeVisibility,omitempty"`
}

// Viewer is the identity requesting a profile. A zero Viewer is anonymous.
type Viewer struct {
	UserID string `json:"uid,omitempty"`
}

func (v Viewer) IsAuthenticated() bool { return v.UserID != "" }

// ProfileProjection is what a viewer is allowed to see of a profile.
// Nil optional fields were not disclosed.
type ProfileProjection struct {
	UserID      string  `json:"uid,omitempty"`
	DisplayName string  `json:"trainerName"`
	PictureURL  string  `json:"profilePicture"`
	FriendCode  *string `json:"friendCode,omitempty"`
	Email       *string `json:"email,omitempty"`
}

// Disclosure lists which optional profile fields a viewer may see.
type Disclosure struct {
	FriendCode bool
	Email      bool
}

type disclosureKey struct {
	owner         bool
	visibility    Visibility
	authenticated bool
}

var disclosureTable = map[disclosureKey]Disclosure{
	{owner: true, visibility: VisibilityEveryone, authenticated: true}:   {FriendCode: true, Email: true},
	{owner: true, visibility: VisibilityRegistered, authenticated: true}: {FriendCode: true, Email: true},
	{owner: true, visibility: VisibilityHidden, authenticated: true}:     {FriendCode: true, Email: true},

	{visibility: VisibilityEveryone, authenticated: false}:   {FriendCode: true},
	{visibility: VisibilityEveryone, authenticated: true}:    {FriendCode: true},
	{visibility: VisibilityRegistered, authenticated: false}: {},
	{visibility: VisibilityRegistered, authenticated: true}:  {FriendCode: true},
	{visibility: VisibilityHidden, authenticated: false}:     {},
	{visibility: VisibilityHidden, authenticated: true}:      {},
}

// VisibilityPolicy decides which profile fields are disclosed to a viewer.
// It is stateless apart from its fallbacks and safe for concurrent use.
type VisibilityPolicy struct {
	unknownName    string
	defaultPicture string
}

func NewVisibilityPolicy(cfg *config.VisibilityConfig) *VisibilityPolicy {
	p := &VisibilityPolicy{
		unknownName:    config.DefaultUnknownDisplayName,
		defaultPicture: config.DefaultPictureURL,
	}
	if cfg != nil {
		if cfg.UnknownDisplayName != "" {
			p.unknownName = cfg.UnknownDisplayName
		}
		if cfg.DefaultPictureURL != "" {
			p.defaultPicture = cfg.DefaultPictureURL
		}
	}
	return p
}

// Disclosure evaluates the owner override first, then the stored setting.
func (p *VisibilityPolicy) Disclosure(profile Profile, viewer Viewer) Disclosure {
	owner := viewer.IsAuthenticated() && viewer.UserID == profile.UserID
	return disclosureTable[disclosureKey{
		owner:         owner,
		visibility:    ParseVisibility(profile.Visibility),
		authenticated: viewer.IsAuthenticated(),
	}]
}

// Project builds the viewer's projection of profile. The profile is not modified.
func (p *VisibilityPolicy) Project(profile Profile, viewer Viewer) ProfileProjection {
	proj := ProfileProjection{
		UserID:      profile.UserID,
		DisplayName: profile.DisplayName,
		PictureURL:  profile.PictureURL,
	}
	if strings.TrimSpace(proj.DisplayName) == "" {
		proj.DisplayName = p.unknownName
	}
	if strings.TrimSpace(proj.PictureURL) == "" {
		proj.PictureURL = p.defaultPicture
	}

	d := p.Disclosure(profile, viewer)
	if d.FriendCode {
		friendCode := profile.FriendCode
		proj.FriendCode = &friendCode
	}
	if d.Email {
		email := profile.Email
		proj.Email = &email
	}
	return proj
}

// Directory returns the public trainer-code listing for viewer: profiles whose
// stored setting alone discloses a non-empty friend code to this viewer.
func (p *VisibilityPolicy) Directory(profiles []Profile, viewer Viewer) []ProfileProjection {
	listed := make([]ProfileProjection, 0, len(profiles))
	for _, profile := range profiles {
		if profile.FriendCode == "" {
			continue
		}
		d := disclosureTable[disclosureKey{
			visibility:    ParseVisibility(profile.Visibility),
			authenticated: viewer.IsAuthenticated(),
		}]
		if !d.FriendCode {
			continue
		}
		listed = append(listed, p.Project(profile, viewer))
	}
	return listed
}
