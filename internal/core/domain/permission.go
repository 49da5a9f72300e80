package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Permission is a single capability an API key may be granted.
type Permission string

const (
	PermissionRead     Permission = "read"
	PermissionDeposit  Permission = "deposit"
	PermissionTransfer Permission = "transfer"
)

// PermissionSet is a bitmask over the known permissions.
type PermissionSet uint8

const (
	permRead PermissionSet = 1 << iota
	permDeposit
	permTransfer
)

// AllPermissions is held implicitly by users authenticated with a bearer token.
const AllPermissions = permRead | permDeposit | permTransfer

var orderedPermissions = []struct {
	name Permission
	bit  PermissionSet
}{
	{PermissionRead, permRead},
	{PermissionDeposit, permDeposit},
	{PermissionTransfer, permTransfer},
}

func bitFor(p Permission) (PermissionSet, bool) {
	for _, op := range orderedPermissions {
		if op.name == p {
			return op.bit, true
		}
	}
	return 0, false
}

// NewPermissionSet builds a set from known permissions, ignoring unknown ones.
func NewPermissionSet(perms ...Permission) PermissionSet {
	var s PermissionSet
	for _, p := range perms {
		s = s.With(p)
	}
	return s
}

// ParsePermissions converts raw names into a set. Unknown names are an error.
func ParsePermissions(names []string) (PermissionSet, error) {
	var s PermissionSet
	for _, n := range names {
		bit, ok := bitFor(Permission(strings.ToLower(strings.TrimSpace(n))))
		if !ok {
			return 0, fmt.Errorf("unknown permission %q", n)
		}
		s |= bit
	}
	return s, nil
}

// Has reports set membership.
func (s PermissionSet) Has(p Permission) bool {
	bit, ok := bitFor(p)
	return ok && s&bit != 0
}

// With returns s plus p.
func (s PermissionSet) With(p Permission) PermissionSet {
	bit, _ := bitFor(p)
	return s | bit
}

func (s PermissionSet) IsEmpty() bool {
	return s&AllPermissions == 0
}

// Strings lists the members in a stable order.
func (s PermissionSet) Strings() []string {
	out := make([]string, 0, len(orderedPermissions))
	for _, op := range orderedPermissions {
		if s&op.bit != 0 {
			out = append(out, string(op.name))
		}
	}
	return out
}

func (s PermissionSet) String() string {
	return strings.Join(s.Strings(), ",")
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	parsed, err := ParsePermissions(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
