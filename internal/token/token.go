package token

// Class determines which venue set may route an asset.
type Class int

const (
	// ClassRegistry marks externally verified assets, always tradable
	// through pooled venues.
	ClassRegistry Class = iota
	// ClassPooled marks assets tradable through AMM-pool venues.
	ClassPooled
	// ClassBondingCurve marks assets still priced by an issuance curve,
	// not yet migrated to pooled liquidity.
	ClassBondingCurve
)

func (c Class) String() string {
	switch c {
	case ClassRegistry:
		return "registry"
	case ClassPooled:
		return "pooled"
	case ClassBondingCurve:
		return "bonding_curve"
	default:
		return "unknown"
	}
}

// Pooled reports whether the asset may route through pooled venues.
func (c Class) Pooled() bool {
	return c == ClassRegistry || c == ClassPooled
}

// Info is resolved asset metadata. Immutable once resolved.
type Info struct {
	AssetID  string
	Symbol   string
	Name     string
	Decimals int
	Class    Class
}
