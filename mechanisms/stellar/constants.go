package stellar

import (
	"fmt"

	"github.com/stellar/go/network"

	ledgerpay "github.com/x402-foundation/ledgerpay"
)

const (
	NetworkPubnet    = "stellar:pubnet"
	NetworkTestnet   = "stellar:testnet"
	NetworkFuturenet = "stellar:futurenet"

	HorizonPubnet    = "https://horizon.stellar.org"
	HorizonTestnet   = "https://horizon-testnet.stellar.org"
	HorizonFuturenet = "https://horizon-futurenet.stellar.org"

	// operationsPageLimit is Horizon's maximum page size; a transaction holds at most 100 operations
	operationsPageLimit = 200
)

type NetworkConfig struct {
	Passphrase string
	HorizonURL string
}

var NetworkConfigs = map[string]NetworkConfig{
	NetworkPubnet: {
		Passphrase: network.PublicNetworkPassphrase,
		HorizonURL: HorizonPubnet,
	},
	NetworkTestnet: {
		Passphrase: network.TestNetworkPassphrase,
		HorizonURL: HorizonTestnet,
	},
	NetworkFuturenet: {
		Passphrase: network.FutureNetworkPassphrase,
		HorizonURL: HorizonFuturenet,
	},
}

// ConfigFor returns the passphrase and Horizon endpoint of a network
func ConfigFor(n ledgerpay.Network) (NetworkConfig, error) {
	config, ok := NetworkConfigs[string(n)]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("unsupported stellar network: %s", n)
	}
	return config, nil
}
