// Package symbols assigns canonical identifiers to instruments and resolves
// venue-specific spellings to them.
package symbols

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"cryptofeeds/models"
)

// MaxSymbols bounds the identifier space and the size of every per-exchange
// market data collection.
const MaxSymbols = 1000

// SymbolID is a dense identifier in [0, MaxSymbols).
type SymbolID int

var (
	ErrRegistryFull  = errors.New("symbol registry is full")
	ErrInvalidSymbol = errors.New("invalid symbol")
)

// DefaultQuotes are crossed with every configured base asset.
var DefaultQuotes = []string{"USDT", "USDC", "USD"}

// Registry maps canonical names and native aliases to identifiers. It is
// populated once and read concurrently afterwards without locking.
type Registry struct {
	names     []string
	canonical map[string]SymbolID
	spot      map[string]SymbolID
	perp      map[string]SymbolID
}

func NewRegistry() *Registry {
	return &Registry{
		canonical: make(map[string]SymbolID),
		spot:      make(map[string]SymbolID),
		perp:      make(map[string]SymbolID),
	}
}

// Build registers every base x quote x {spot, perp} combination together with
// its alias spellings. Quotes default to DefaultQuotes.
func Build(bases, quotes []string) (*Registry, error) {
	if len(quotes) == 0 {
		quotes = DefaultQuotes
	}
	r := NewRegistry()
	seen := make(map[string]struct{}, len(bases))
	for _, raw := range bases {
		base := strings.ToUpper(strings.TrimSpace(raw))
		if base == "" {
			continue
		}
		if _, dup := seen[base]; dup {
			continue
		}
		seen[base] = struct{}{}

		for _, q := range quotes {
			quote := strings.ToUpper(strings.TrimSpace(q))
			if quote == "" {
				continue
			}
			for _, it := range []models.InstrumentType{models.Spot, models.Perp} {
				if err := r.registerPair(base, quote, it); err != nil {
					return nil, err
				}
			}
		}
	}
	return r, nil
}

func (r *Registry) registerPair(base, quote string, it models.InstrumentType) error {
	canonical := Canonical(it, base, quote)
	id, err := r.Register(canonical)
	if err != nil {
		return err
	}
	aliases := []string{
		canonical,
		base + quote,
		base + "-" + quote,
		base + "/" + quote,
		base + "_" + quote,
	}
	if it == models.Perp {
		aliases = append(aliases,
			base+quote+"-PERP",
			base+"-"+quote+"-PERP",
			base+"_"+quote+"_PERP",
			base+"-"+quote+"-SWAP",
		)
	}
	for _, alias := range aliases {
		if err := r.AddAlias(id, it, alias); err != nil {
			return err
		}
	}
	return nil
}

// Canonical formats the {TYPE}-{BASE}-{QUOTE} name of an instrument.
func Canonical(it models.InstrumentType, base, quote string) string {
	return fmt.Sprintf("%s-%s-%s", it, strings.ToUpper(base), strings.ToUpper(quote))
}

// ParseCanonical splits a canonical name into its parts.
func ParseCanonical(name string) (models.InstrumentType, string, string, error) {
	parts := strings.Split(name, "-")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return models.Spot, "", "", fmt.Errorf("%w: %q is not TYPE-BASE-QUOTE", ErrInvalidSymbol, name)
	}
	it, err := models.ParseInstrumentType(parts[0])
	if err != nil {
		return models.Spot, "", "", fmt.Errorf("%w: %v", ErrInvalidSymbol, err)
	}
	return it, parts[1], parts[2], nil
}

// Register assigns the next free identifier to canonical. Registering the same
// name twice returns the existing identifier.
func (r *Registry) Register(canonical string) (SymbolID, error) {
	canonical = strings.ToUpper(strings.TrimSpace(canonical))
	if id, ok := r.canonical[canonical]; ok {
		return id, nil
	}
	if len(r.names) >= MaxSymbols {
		return 0, fmt.Errorf("%w: cannot register %s", ErrRegistryFull, canonical)
	}
	id := SymbolID(len(r.names))
	r.names = append(r.names, canonical)
	r.canonical[canonical] = id
	return id, nil
}

// AddAlias makes native resolve to id within the given instrument type.
func (r *Registry) AddAlias(id SymbolID, it models.InstrumentType, native string) error {
	if !r.valid(id) {
		return fmt.Errorf("%w: id %d is not registered", ErrInvalidSymbol, id)
	}
	m := r.aliases(it)
	if m == nil {
		return fmt.Errorf("%w: no alias table for %s", ErrInvalidSymbol, it)
	}
	m[normalizeKey(native)] = id
	return nil
}

// Lookup resolves a native spelling within the given instrument type. The
// match is exact after upper-casing.
func (r *Registry) Lookup(native string, it models.InstrumentType) (SymbolID, bool) {
	m := r.aliases(it)
	if m == nil {
		return 0, false
	}
	id, ok := m[normalizeKey(native)]
	return id, ok
}

// Symbol returns the canonical name for id.
func (r *Registry) Symbol(id SymbolID) (string, bool) {
	if !r.valid(id) {
		return "", false
	}
	return r.names[id], true
}

// ID resolves a canonical name.
func (r *Registry) ID(canonical string) (SymbolID, bool) {
	id, ok := r.canonical[normalizeKey(canonical)]
	return id, ok
}

// Len returns the number of registered identifiers.
func (r *Registry) Len() int {
	return len(r.names)
}

// Aliases lists the native spellings that resolve to id, sorted.
func (r *Registry) Aliases(id SymbolID) []string {
	if !r.valid(id) {
		return nil
	}
	it, _, _, err := ParseCanonical(r.names[id])
	if err != nil {
		return nil
	}
	var out []string
	for alias, aid := range r.aliases(it) {
		if aid == id {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) valid(id SymbolID) bool {
	return id >= 0 && int(id) < len(r.names)
}

func (r *Registry) aliases(it models.InstrumentType) map[string]SymbolID {
	switch it {
	case models.Spot:
		return r.spot
	case models.Perp:
		return r.perp
	default:
		return nil
	}
}

func normalizeKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
