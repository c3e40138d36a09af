// Package explorer talks to the chain's block explorer: the paginated REST
// API (Blockscout v2 plus its Etherscan-compatible module/action endpoint)
// and the GraphQL endpoint used as the secondary holder source.
package explorer
