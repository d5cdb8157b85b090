// Package catalog holds the static product catalog: the mapping from App Store
// product identifiers to entitlement counts and the rank used to pick the
// winning tier. Loaded once at startup; read-only afterwards.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Entry describes one purchasable product.
type Entry struct {
	ProductID   string `mapstructure:"productId"`
	Tier        string `mapstructure:"tier"`
	Rank        int    `mapstructure:"rank"`
	MemberSeats int    `mapstructure:"memberSeats"`
	PetSlots    int    `mapstructure:"petSlots"`
}

// Catalog is an immutable product lookup. The free tier is always present and
// is what entitlement resolution falls back to.
type Catalog struct {
	entries map[string]Entry
	free    Entry
}

// FreeTierProductID is the synthetic identifier for the unpaid tier.
const FreeTierProductID = "free"

func defaultEntries() []Entry {
	return []Entry{
		{ProductID: FreeTierProductID, Tier: "free", Rank: 0, MemberSeats: 1, PetSlots: 0},
		{ProductID: "app.hearth.plus.monthly", Tier: "plus", Rank: 5, MemberSeats: 6, PetSlots: 3},
		{ProductID: "app.hearth.plus.yearly", Tier: "plus", Rank: 5, MemberSeats: 6, PetSlots: 3},
		{ProductID: "app.hearth.family.monthly", Tier: "family", Rank: 8, MemberSeats: 12, PetSlots: 10},
		{ProductID: "app.hearth.family.yearly", Tier: "family", Rank: 8, MemberSeats: 12, PetSlots: 10},
	}
}

// Load reads catalog.yml if present and falls back to the compiled-in catalog.
func Load() (*Catalog, error) {
	v := viper.New()

	v.SetConfigName("catalog")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/hearth/config")
	v.AddConfigPath("/etc/hearth")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		return New(defaultEntries())
	}

	var entries []Entry
	if err := v.UnmarshalKey("products", &entries); err != nil {
		return nil, fmt.Errorf("unmarshal product catalog: %w", err)
	}
	return New(entries)
}

// New builds a catalog from entries, validating rank/seat sanity and ensuring
// a free tier exists.
func New(entries []Entry) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, errors.New("product catalog cannot be empty")
	}

	byID := make(map[string]Entry, len(entries))
	var free *Entry
	for _, e := range entries {
		id := strings.TrimSpace(e.ProductID)
		if id == "" {
			return nil, errors.New("product catalog entry missing productId")
		}
		if e.Rank < 0 || e.MemberSeats < 0 || e.PetSlots < 0 {
			return nil, fmt.Errorf("product %s has negative rank or counts", id)
		}
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("duplicate product %s in catalog", id)
		}
		e.ProductID = id
		byID[id] = e
		if id == FreeTierProductID {
			copy := e
			free = &copy
		}
	}
	if free == nil {
		f := Entry{ProductID: FreeTierProductID, Tier: "free", Rank: 0, MemberSeats: 1, PetSlots: 0}
		byID[f.ProductID] = f
		free = &f
	}
	if free.Rank != 0 {
		return nil, errors.New("free tier must have rank 0")
	}

	return &Catalog{entries: byID, free: *free}, nil
}

// Lookup returns the entry for a product identifier.
func (c *Catalog) Lookup(productID string) (Entry, bool) {
	e, ok := c.entries[productID]
	return e, ok
}

// Recognized reports whether a product identifier is part of the catalog.
func (c *Catalog) Recognized(productID string) bool {
	_, ok := c.entries[productID]
	return ok
}

// FreeTier returns the fallback entry for accounts with no active purchase.
func (c *Catalog) FreeTier() Entry {
	return c.free
}
