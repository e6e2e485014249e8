package hass

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Domain is the integration part of an entity ID, such as "light".
type Domain string

const (
	DomainAutomation    Domain = "automation"
	DomainBinarySensor  Domain = "binary_sensor"
	DomainButton        Domain = "button"
	DomainCamera        Domain = "camera"
	DomainClimate       Domain = "climate"
	DomainConversation  Domain = "conversation"
	DomainCover         Domain = "cover"
	DomainDeviceTracker Domain = "device_tracker"
	DomainGroup         Domain = "group"
	DomainInputDatetime Domain = "input_datetime"
	DomainInputNumber   Domain = "input_number"
	DomainInputSelect   Domain = "input_select"
	DomainInputText     Domain = "input_text"
	DomainLight         Domain = "light"
	DomainLock          Domain = "lock"
	DomainMediaPlayer   Domain = "media_player"
	DomainNotify        Domain = "notify"
	DomainPerson        Domain = "person"
	DomainRemote        Domain = "remote"
	DomainScene         Domain = "scene"
	DomainSelect        Domain = "select"
	DomainSensor        Domain = "sensor"
	DomainSun           Domain = "sun"
	DomainSwitch        Domain = "switch"
	DomainTag           Domain = "tag"
	DomainUpdate        Domain = "update"
	DomainWeather       Domain = "weather"
	DomainZone          Domain = "zone"
)

var knownDomains = []Domain{
	DomainAutomation, DomainBinarySensor, DomainButton, DomainCamera,
	DomainClimate, DomainConversation, DomainCover, DomainDeviceTracker,
	DomainGroup, DomainInputDatetime, DomainInputNumber, DomainInputSelect,
	DomainInputText, DomainLight, DomainLock, DomainMediaPlayer,
	DomainNotify, DomainPerson, DomainRemote, DomainScene,
	DomainSelect, DomainSensor, DomainSun, DomainSwitch,
	DomainTag, DomainUpdate, DomainWeather, DomainZone,
}

// ParseDomain returns s as a Domain if it is one of the known domains.
func ParseDomain(s string) (Domain, error) {
	d := Domain(s)
	if !slices.Contains(knownDomains, d) {
		return "", UnknownDomainError{Domain: s}
	}
	return d, nil
}

// ObjectID is the entity-specific part of an entity ID, such as "kitchen_lamp".
type ObjectID string

// ParseObjectID returns s as an ObjectID if it is a valid slug.
func ParseObjectID(s string) (ObjectID, error) {
	if err := validateSlug(s); err != nil {
		return "", err
	}
	return ObjectID(s), nil
}

// validateSlug accepts lowercase ASCII letters, digits and underscores.
func validateSlug(s string) error {
	if s == "" {
		return SlugError{Empty: true}
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return SlugError{Encountered: r}
		}
	}
	return nil
}

// EntityID identifies an entity, written as domain.object_id.
type EntityID struct {
	Domain   Domain
	ObjectID ObjectID
}

// ParseEntityID parses s, such as "light.kitchen_lamp".
func ParseEntityID(s string) (EntityID, error) {
	domain, objectID, ok := strings.Cut(s, ".")
	if !ok {
		return EntityID{}, EntityIDError{Input: s, Err: ErrMissingDot}
	}

	d, err := ParseDomain(domain)
	if err != nil {
		return EntityID{}, EntityIDError{Input: s, Part: "domain", Err: err}
	}

	o, err := ParseObjectID(objectID)
	if err != nil {
		return EntityID{}, EntityIDError{Input: s, Part: "object ID", Err: err}
	}

	return EntityID{Domain: d, ObjectID: o}, nil
}

// MustParseEntityID is like [ParseEntityID] but panics on error.
// It is intended for constants in tests and program setup.
func MustParseEntityID(s string) EntityID {
	id, err := ParseEntityID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id EntityID) String() string {
	return string(id.Domain) + "." + string(id.ObjectID)
}

func (id EntityID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *EntityID) UnmarshalText(b []byte) error {
	parsed, err := ParseEntityID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ErrMissingDot is wrapped by [EntityIDError]
// when the input has no domain separator.
var ErrMissingDot = errors.New("entity IDs have a dot in them, e.g. light.kitchen_lamp")

// EntityIDError is returned from [ParseEntityID].
type EntityIDError struct {
	Input string

	// Which part failed to parse: "domain", "object ID",
	// or empty if the input could not be split.
	Part string

	Err error
}

func (e EntityIDError) Error() string {
	if e.Part == "" {
		return fmt.Sprintf("invalid entity ID %q: %v", e.Input, e.Err)
	}
	return fmt.Sprintf("invalid %s in entity ID %q: %v", e.Part, e.Input, e.Err)
}

func (e EntityIDError) Unwrap() error {
	return e.Err
}

// UnknownDomainError is returned from [ParseDomain].
type UnknownDomainError struct {
	Domain string
}

func (e UnknownDomainError) Error() string {
	return fmt.Sprintf("unknown domain %q", e.Domain)
}

// SlugError is returned when a slug contains
// anything other than a-z, 0-9 or underscore.
type SlugError struct {
	Encountered rune
	Empty       bool
}

func (e SlugError) Error() string {
	if e.Empty {
		return "slug must not be empty"
	}
	return fmt.Sprintf(
		"expected a lowercase ASCII letter, digit or underscore but encountered %q",
		e.Encountered,
	)
}
