package domain

import "strings"

type KeyKind string

const (
	KeyKindGPG KeyKind = "gpg"
	KeyKindSSH KeyKind = "ssh"
)

// SigningKey is a public key registered on a platform account. Subkeys hold
// the key ids of GPG subkeys. SSH signing keys are identified by their
// platform key id.
type SigningKey struct {
	KeyID   string       `json:"key_id"`
	Kind    KeyKind      `json:"kind,omitempty"`
	Subkeys []SigningKey `json:"subkeys,omitempty"`
}

// Matches reports whether keyID identifies this key or one of its subkeys.
func (k SigningKey) Matches(keyID string) bool {
	if keyID == "" {
		return false
	}
	if strings.EqualFold(k.KeyID, keyID) {
		return true
	}
	for _, sub := range k.Subkeys {
		if sub.Matches(keyID) {
			return true
		}
	}
	return false
}

// KeyLookup is the result of fetching a user's registered keys. A failed
// lookup is distinct from a successful lookup that found nothing.
type KeyLookup struct {
	Keys   []SigningKey
	Failed bool
	Reason string
}

func KeysFound(keys []SigningKey) KeyLookup { return KeyLookup{Keys: keys} }

func KeyLookupFailed(reason string) KeyLookup { return KeyLookup{Failed: true, Reason: reason} }

func (l KeyLookup) Match(keyID string) bool {
	for _, k := range l.Keys {
		if k.Matches(keyID) {
			return true
		}
	}
	return false
}

// MembershipLookup is the result of an organization membership check.
type MembershipLookup struct {
	Member bool
	Failed bool
	Reason string
}

func MembershipFound(member bool) MembershipLookup { return MembershipLookup{Member: member} }

func MembershipLookupFailed(reason string) MembershipLookup {
	return MembershipLookup{Failed: true, Reason: reason}
}
