package marketdata

// Curated dashboard assets grouped by category. Display names map to
// the provider tickers used for data fetches.
var symbolMap = map[string]map[string]string{
	"Precious Metals": {
		"GOLD":      "GC=F",
		"SILVER":    "SI=F",
		"PALLADIUM": "PA=F",
		"PLATINUM":  "PL=F",
	},
	"Commodities": {
		"Copper":    "HG=F",
		"Crude Oil": "CL=F",
		"Iron Ore":  "TIO=F",
		"USTECH100": "^NDX",
		"Aluminium": "ALI=F",
		"Zinc":      "ZN=F",
		"Nickel":    "NI=F",
	},
	"Crypto": {
		"Bitcoin":  "BTC-USD",
		"Etherium": "ETH-USD",
		"Solana":   "SOL-USD",
	},
	"Currency": {
		"USDJPY":       "USDJPY=X",
		"GBPUSD":       "GBPUSD=X",
		"DOLLAR INDEX": "DX-Y.NYB",
	},
}

// categoryOrder fixes the listing order for the dashboard.
var categoryOrder = []string{"Precious Metals", "Commodities", "Crypto", "Currency"}

// Category is one dashboard asset group.
type Category struct {
	Name   string            `json:"name"`
	Assets map[string]string `json:"assets"`
}

// Categories returns the curated asset groups in display order.
func Categories() []Category {
	out := make([]Category, 0, len(categoryOrder))
	for _, name := range categoryOrder {
		out = append(out, Category{Name: name, Assets: symbolMap[name]})
	}
	return out
}

// Resolve maps a category and display name to a provider ticker. Unknown
// pairs fall through to the item itself so free-form symbols still work.
func Resolve(category, item string) string {
	if assets, ok := symbolMap[category]; ok {
		if sym, ok := assets[item]; ok {
			return sym
		}
	}
	return item
}
