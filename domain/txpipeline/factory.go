package txpipeline

import (
	"github.com/blockpipe/txpipe/domain/txpipeline/admission"
	"github.com/blockpipe/txpipe/domain/txpipeline/chaincontext"
	"github.com/blockpipe/txpipe/domain/txpipeline/coordinator"
	"github.com/blockpipe/txpipe/domain/txpipeline/model"
	"github.com/blockpipe/txpipe/domain/txpipeline/packager"
	"github.com/blockpipe/txpipe/domain/txpipeline/verifier"
)

// Factory instantiates new TxPipelines
type Factory interface {
	NewTxPipeline(cc *chaincontext.ChainContext, gateways *model.Gateways) TxPipeline
}

type factory struct{}

// NewTxPipeline instantiates a new TxPipeline for the chain of cc
func (f *factory) NewTxPipeline(cc *chaincontext.ChainContext, gateways *model.Gateways) TxPipeline {
	return &txPipeline{
		cc:          cc,
		packager:    packager.New(cc, gateways),
		verifier:    verifier.New(cc, gateways),
		coordinator: coordinator.New(cc, gateways),
		admitter:    admission.New(cc, gateways),
	}
}

// NewFactory creates a new TxPipeline factory
func NewFactory() Factory {
	return &factory{}
}
