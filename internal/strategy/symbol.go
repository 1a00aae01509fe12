package strategy

import (
	"regexp"
	"strings"

	"github.com/aurax/trading-engine/internal/types"
)

var optionSymbolRe = regexp.MustCompile(`^([A-Z]+)(\d{2})([A-Z]{3})(\d{2})(\d+)(CE|PE)$`)

// SymbolInfo describes what a raw symbol refers to.
type SymbolInfo struct {
	IsOption   bool   `json:"is_option"`
	OptionType string `json:"option_type"` // CE, PE or NA
	BaseSymbol string `json:"base_symbol"` // e.g. NIFTY for NIFTY25SEP0422550CE
}

// AnalyzeSymbol detects whether a symbol is an option contract and
// extracts its type and underlying index name.
func AnalyzeSymbol(symbol string) SymbolInfo {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	info := SymbolInfo{OptionType: types.OptionNone, BaseSymbol: sym}

	if m := optionSymbolRe.FindStringSubmatch(sym); m != nil {
		info.IsOption = true
		info.BaseSymbol = m[1]
		info.OptionType = m[6]
		return info
	}

	// Looser detection for symbols that do not match the full expiry
	// encoding but still carry strike digits and a CE/PE suffix.
	// Plain equity names ending in CE/PE stay non-options.
	if strings.HasSuffix(sym, types.OptionCall) || strings.HasSuffix(sym, types.OptionPut) {
		base := strings.IndexFunc(sym, func(r rune) bool { return r >= '0' && r <= '9' })
		if base > 0 && base < len(sym)-2 {
			info.IsOption = true
			info.OptionType = sym[len(sym)-2:]
			info.BaseSymbol = sym[:base]
		}
	}
	return info
}
