package contracts

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a symbol has no contract mapping. This
// is reference-data breakage, not a transient fault: callers must not
// retry the same symbol.
var ErrNotFound = errors.New("contract not found")

// Contract maps a normalized trading symbol to the broker's
// instrument token and exchange segment.
type Contract struct {
	gorm.Model `json:"-"`
	Symbol     string `gorm:"uniqueIndex" json:"symbol"`
	Token      string `json:"token"`
	Exchange   string `json:"exchange"`
}

// Info is the resolved reference data for one symbol.
type Info struct {
	Token    string `json:"token"`
	Exchange string `json:"exchange"`
}

// masterEntry matches the broker's bulk contract master file layout.
type masterEntry struct {
	Symbol   string `json:"symbol"`
	Token    string `json:"token"`
	Exchange string `json:"exch_seg"`
}

// Service resolves contract reference data. The bulk master file is
// loaded once at startup into an in-memory map; symbols absent there
// fall back to a per-symbol store lookup.
type Service struct {
	mu      sync.RWMutex
	entries map[string]Info
	db      *gorm.DB
}

// NewService creates a contract lookup backed by the store. Call
// LoadMaster before serving to populate the in-memory table.
func NewService(gormDB *gorm.DB) *Service {
	return &Service{entries: make(map[string]Info), db: gormDB}
}

// LoadMaster reads the bulk contract master JSON file. A missing file
// is not fatal: lookups then rely on the store fallback alone.
func (s *Service) LoadMaster(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("component", "contracts").Str("path", path).Msg("contract master file missing, store fallback only")
			return nil
		}
		return err
	}
	var entries []masterEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return err
	}

	s.mu.Lock()
	for _, e := range entries {
		s.entries[strings.ToUpper(e.Symbol)] = Info{Token: e.Token, Exchange: e.Exchange}
	}
	count := len(s.entries)
	s.mu.Unlock()

	log.Info().Str("component", "contracts").Int("symbols", count).Msg("contract master loaded")
	return nil
}

// Lookup resolves a symbol to its token and exchange. Matching order:
// exact in-memory hit, in-memory substring match (broker symbol casing
// drifts), then the store. Returns ErrNotFound when all three miss.
func (s *Service) Lookup(symbol string) (Info, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))

	s.mu.RLock()
	info, ok := s.entries[sym]
	if !ok {
		for candidate, v := range s.entries {
			if strings.Contains(candidate, sym) {
				info, ok = v, true
				break
			}
		}
	}
	s.mu.RUnlock()
	if ok {
		return info, nil
	}

	var c Contract
	err := s.db.Where("symbol = ?", sym).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Info{}, ErrNotFound
		}
		return Info{}, err
	}
	return Info{Token: c.Token, Exchange: c.Exchange}, nil
}

// Put registers a contract in the in-memory table. Test and bootstrap
// helper.
func (s *Service) Put(symbol, token, exchange string) {
	s.mu.Lock()
	s.entries[strings.ToUpper(symbol)] = Info{Token: token, Exchange: exchange}
	s.mu.Unlock()
}
