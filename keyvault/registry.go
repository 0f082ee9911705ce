package keyvault

import (
	"sync"

	"github.com/pkg/errors"
)

// DefaultProvider is used by Load when no default configuration is
// given. The inmemcrypto package registers it.
const DefaultProvider = "inmem"

// ProviderLoader is interface for loading provider by manufacturer
type ProviderLoader func(cfg TokenConfig) (Provider, error)

var (
	lockLoaders sync.RWMutex
	loaders     = make(map[string]ProviderLoader)
)

// Register provider loader by manufacturer
func Register(manufacturer string, loader ProviderLoader) error {
	lockLoaders.Lock()
	defer lockLoaders.Unlock()

	if _, ok := loaders[manufacturer]; ok {
		return errors.Errorf("already registered: %s", manufacturer)
	}

	loaders[manufacturer] = loader

	return nil
}

// Unregister provider loader by manufacturer
func Unregister(manufacturer string) (ProviderLoader, error) {
	lockLoaders.Lock()
	defer lockLoaders.Unlock()

	if loader, ok := loaders[manufacturer]; ok {
		delete(loaders, manufacturer)
		return loader, nil
	}

	return nil, errors.Errorf("not registered: %s", manufacturer)
}

// Registered returns registered providers
func Registered() []string {
	lockLoaders.RLock()
	defer lockLoaders.RUnlock()

	list := []string{}
	for m := range loaders {
		list = append(list, m)
	}
	return list
}

func loaderFor(manufacturer string) (ProviderLoader, error) {
	lockLoaders.RLock()
	defer lockLoaders.RUnlock()

	loader, ok := loaders[manufacturer]
	if !ok {
		return nil, errors.Errorf("provider not registered: %s", manufacturer)
	}
	return loader, nil
}

// LoadProvider loads a single provider from its configuration
func LoadProvider(configLocation string) (Provider, error) {
	tc, err := LoadTokenConfig(configLocation)
	if err != nil {
		return nil, err
	}

	loader, err := loaderFor(tc.Manufacturer())
	if err != nil {
		return nil, err
	}

	return loader(tc)
}

// Load returns Crypto with loaded providers from the given config
// locations. When defaultConfig is empty, the in-memory provider is
// used as the default.
func Load(defaultConfig string, providersConfigs []string) (*Crypto, error) {
	var p Provider
	var err error

	if defaultConfig == "" {
		loader, err := loaderFor(DefaultProvider)
		if err != nil {
			return nil, err
		}
		p, err = loader(&tokenConfig{Man: DefaultProvider})
		if err != nil {
			return nil, err
		}
	} else {
		p, err = LoadProvider(defaultConfig)
		if err != nil {
			return nil, err
		}
	}

	c, err := New(p, nil)
	if err != nil {
		return nil, err
	}
	for _, configLocation := range providersConfigs {
		p, err := LoadProvider(configLocation)
		if err != nil {
			return nil, err
		}
		err = c.Add(p)
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}
