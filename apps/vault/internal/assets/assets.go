package assets

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Asset represents a token accepted for deposits
type Asset struct {
	Symbol   string         `json:"symbol"`
	Name     string         `json:"name"`
	Address  common.Address `json:"address"`
	Decimals int            `json:"decimals"`
}

type assetFile struct {
	Assets []struct {
		Symbol   string `yaml:"symbol"`
		Name     string `yaml:"name"`
		Address  string `yaml:"address"`
		Decimals int    `yaml:"decimals"`
	} `yaml:"assets"`
}

// AssetRegistry holds all supported assets
type AssetRegistry struct {
	assets    map[string]*Asset
	byAddress map[common.Address]*Asset
}

// NewAssetRegistry builds a registry, rejecting duplicate symbols or addresses
func NewAssetRegistry(supportedAssets []*Asset) (*AssetRegistry, error) {
	registry := &AssetRegistry{
		assets:    make(map[string]*Asset),
		byAddress: make(map[common.Address]*Asset),
	}

	for _, asset := range supportedAssets {
		key := strings.ToUpper(asset.Symbol)
		if key == "" {
			return nil, fmt.Errorf("asset %s has no symbol", asset.Address.Hex())
		}
		if _, exists := registry.assets[key]; exists {
			return nil, fmt.Errorf("duplicate asset symbol %s", asset.Symbol)
		}
		if _, exists := registry.byAddress[asset.Address]; exists {
			return nil, fmt.Errorf("duplicate asset address %s", asset.Address.Hex())
		}
		registry.assets[key] = asset
		registry.byAddress[asset.Address] = asset
	}

	return registry, nil
}

// LoadFile reads the asset list from a YAML file. An empty path yields an
// empty registry.
func LoadFile(path string) (*AssetRegistry, error) {
	if path == "" {
		return NewAssetRegistry(nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read assets file %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*AssetRegistry, error) {
	var file assetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse assets file: %w", err)
	}

	supported := make([]*Asset, 0, len(file.Assets))
	for _, a := range file.Assets {
		if !common.IsHexAddress(a.Address) {
			return nil, fmt.Errorf("asset %s has invalid address %q", a.Symbol, a.Address)
		}
		supported = append(supported, &Asset{
			Symbol:   a.Symbol,
			Name:     a.Name,
			Address:  common.HexToAddress(a.Address),
			Decimals: a.Decimals,
		})
	}
	return NewAssetRegistry(supported)
}

// GetBySymbol returns an asset by its symbol (case-insensitive)
func (r *AssetRegistry) GetBySymbol(symbol string) (*Asset, bool) {
	asset, exists := r.assets[strings.ToUpper(symbol)]
	return asset, exists
}

// GetByAddress returns an asset by its contract address
func (r *AssetRegistry) GetByAddress(address common.Address) (*Asset, bool) {
	asset, exists := r.byAddress[address]
	return asset, exists
}

// GetAllAsArray returns all assets ordered by symbol
func (r *AssetRegistry) GetAllAsArray() []*Asset {
	assets := make([]*Asset, 0, len(r.assets))
	for _, asset := range r.assets {
		assets = append(assets, asset)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Symbol < assets[j].Symbol })
	return assets
}

// IsSupported checks if a symbol is supported
func (r *AssetRegistry) IsSupported(symbol string) bool {
	_, exists := r.GetBySymbol(symbol)
	return exists
}
