package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// registryABIJSON covers the PropertyRegistry surface the vault uses.
const registryABIJSON = `[
 {"type":"function","name":"getUserAssetBalance","stateMutability":"view",
  "inputs":[{"name":"assetId","type":"string"},{"name":"user","type":"address"}],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getStakedAssetBalance","stateMutability":"view",
  "inputs":[{"name":"assetId","type":"string"},{"name":"user","type":"address"}],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getAssetRewards","stateMutability":"view",
  "inputs":[{"name":"assetId","type":"string"},{"name":"user","type":"address"}],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getAssetDetails","stateMutability":"view",
  "inputs":[{"name":"assetId","type":"string"}],
  "outputs":[
   {"name":"totalSupply","type":"uint256"},
   {"name":"tokenPrice","type":"uint256"},
   {"name":"tokensSold","type":"uint256"},
   {"name":"fundingGoal","type":"uint256"},
   {"name":"isActive","type":"bool"},
   {"name":"maturityTimestamp","type":"uint256"},
   {"name":"discountRate","type":"uint256"},
   {"name":"redemptionRate","type":"uint256"}]},
 {"type":"function","name":"buyPropertyTokens","stateMutability":"nonpayable",
  "inputs":[{"name":"assetId","type":"string"},{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"stakeAsset","stateMutability":"nonpayable",
  "inputs":[{"name":"assetId","type":"string"},{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"unstakeAsset","stateMutability":"nonpayable",
  "inputs":[{"name":"assetId","type":"string"},{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"claimAssetYield","stateMutability":"nonpayable",
  "inputs":[{"name":"assetId","type":"string"}],"outputs":[]},
 {"type":"function","name":"earlyCashOut","stateMutability":"nonpayable",
  "inputs":[{"name":"assetId","type":"string"},{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"redeem","stateMutability":"nonpayable",
  "inputs":[{"name":"assetId","type":"string"},{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"event","name":"CashedOut","anonymous":false,"inputs":[
   {"name":"user","type":"address","indexed":true},
   {"name":"assetId","type":"string","indexed":false},
   {"name":"amount","type":"uint256","indexed":false},
   {"name":"payout","type":"uint256","indexed":false}]},
 {"type":"event","name":"Redeemed","anonymous":false,"inputs":[
   {"name":"user","type":"address","indexed":true},
   {"name":"assetId","type":"string","indexed":false},
   {"name":"amount","type":"uint256","indexed":false},
   {"name":"payout","type":"uint256","indexed":false}]}
]`

// erc20ABIJSON is the allowance subset of ERC-20.
const erc20ABIJSON = `[
 {"type":"function","name":"approve","stateMutability":"nonpayable",
  "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
  "outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"allowance","stateMutability":"view",
  "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
  "outputs":[{"name":"","type":"uint256"}]}
]`

var (
	registryABI = mustParseABI(registryABIJSON)
	erc20ABI    = mustParseABI(erc20ABIJSON)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("chain: bad embedded ABI: " + err.Error())
	}
	return parsed
}
