package registry

import (
	"fmt"

	piperr "github.com/ohcarioca/ai-investor-v2-sub001/internal/errors"
)

// Aggregator API base URL. The quote and build endpoints hang off this root;
// both are overridable in configuration for tests and self-hosted routers.
const AggregatorBaseURL = "https://aggregator-api.kyberswap.com"

// Statically configured aggregator router (the ERC-20 spender) per chain.
// A just-fetched quote may refine this with its reported router, but the
// static entry is the fallback and never blocks the flow.
var aggregatorRouterByChainID = map[int64]string{
	1:     "0x6131B5fae19EA4f9D964eAc0408E4408b66337b5",
	8453:  "0x6131B5fae19EA4f9D964eAc0408E4408b66337b5",
	42161: "0x6131B5fae19EA4f9D964eAc0408E4408b66337b5",
	43114: "0x6131B5fae19EA4f9D964eAc0408E4408b66337b5",
}

func AggregatorRouter(chainID int64) (string, error) {
	router, ok := aggregatorRouterByChainID[chainID]
	if !ok {
		return "", piperr.New(piperr.CodeUnsupportedChain, fmt.Sprintf("no aggregator router configured for chain id %d", chainID))
	}
	return router, nil
}
