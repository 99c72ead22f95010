// Package loss builds the scalar objective the optimizer minimizes: the
// deviation of an equalized response from its target plus a penalty for
// bands crowding each other.
package loss

import (
	"fmt"
	"strings"
)

// Kind selects how the deviation is weighted and reduced to a scalar
type Kind int

const (
	// Flat is plain RMS deviation
	Flat Kind = iota
	// SpeakerFlat weights each point by the log-frequency span it covers
	SpeakerFlat
	// SpeakerScore minimizes the loudspeaker preference model terms
	SpeakerScore
	// HeadphoneFlat is log-span weighting with the treble de-emphasized
	HeadphoneFlat
	// HeadphoneScore minimizes the headphone preference model terms
	HeadphoneScore
)

var kindNames = [...]string{
	Flat:           "flat",
	SpeakerFlat:    "speaker-flat",
	SpeakerScore:   "speaker-score",
	HeadphoneFlat:  "headphone-flat",
	HeadphoneScore: "headphone-score",
}

// Kinds lists every loss kind
func Kinds() []Kind {
	return []Kind{Flat, SpeakerFlat, SpeakerScore, HeadphoneFlat, HeadphoneScore}
}

// ParseKind maps a loss name to its Kind
func ParseKind(name string) (Kind, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, "_", "-")
	for i, n := range kindNames {
		if n == key {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown loss %q", name)
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	if k < 0 || int(k) >= len(kindNames) {
		return nil, fmt.Errorf("invalid loss kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Family groups kinds by the kind of device they are meant for
type Family string

const (
	FamilyNone      Family = ""
	FamilySpeaker   Family = "speaker"
	FamilyHeadphone Family = "headphone"
)

// Family returns the device family of the kind
func (k Kind) Family() Family {
	switch k {
	case SpeakerFlat, SpeakerScore:
		return FamilySpeaker
	case HeadphoneFlat, HeadphoneScore:
		return FamilyHeadphone
	}
	return FamilyNone
}
