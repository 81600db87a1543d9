package domain

import "time"

// LegacyAliasType is the namespace-agnostic object type holding redirect
// records from an old (namespace, type, id) to a current target id. Alias
// object ids are "<namespace>:<type>:<sourceId>" with the default namespace
// spelled out.
const LegacyAliasType = "legacy-url-alias"

// Alias attribute names.
const (
	AliasFieldTargetID       = "targetId"
	AliasFieldDisabled       = "disabled"
	AliasFieldResolveCounter = "resolveCounter"
	AliasFieldLastResolved   = "lastResolved"
)

// LegacyAliasID builds the alias object id for a source object.
func LegacyAliasID(namespace, typ, id string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return namespace + ":" + typ + ":" + id
}

// LegacyAlias is the decoded form of an alias record's attributes.
type LegacyAlias struct {
	TargetID       string
	Disabled       bool
	ResolveCounter int64
	LastResolved   *time.Time
}

// LegacyAliasFromAttributes decodes an alias record's attribute bag.
func LegacyAliasFromAttributes(attrs map[string]any) LegacyAlias {
	var a LegacyAlias
	a.TargetID, _ = attrs[AliasFieldTargetID].(string)
	a.Disabled, _ = attrs[AliasFieldDisabled].(bool)
	switch v := attrs[AliasFieldResolveCounter].(type) {
	case int64:
		a.ResolveCounter = v
	case int:
		a.ResolveCounter = int64(v)
	case float64:
		a.ResolveCounter = int64(v)
	}
	if s, ok := attrs[AliasFieldLastResolved].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			a.LastResolved = &t
		}
	}
	return a
}
