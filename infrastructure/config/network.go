package config

import (
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

// NetworkFlags selects the chain the pipeline serves and where its ledger
// and modules live
type NetworkFlags struct {
	ChainID     uint16 `long:"chainid" description:"ID of the chain served by this node"`
	MainAssetID uint16 `long:"mainassetid" description:"ID of the main asset of the chain, used for fees"`
	Simnet      bool   `long:"simnet" description:"Use in-process simulated ledger and module gateways"`
}

// ResolveNetwork checks the network flags once they were parsed
func (networkFlags *NetworkFlags) ResolveNetwork(parser *flags.Parser) error {
	if networkFlags.ChainID == 0 {
		parser.WriteHelp(errWriter)
		return errors.New("chain ID must not be 0")
	}
	if networkFlags.MainAssetID == 0 {
		return errors.New("main asset ID must not be 0")
	}
	if !networkFlags.Simnet {
		return errors.New("only --simnet gateways are available in this build")
	}
	return nil
}
