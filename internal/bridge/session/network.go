package session

import "strings"

// Network 描述一个链网络。
type Network struct {
	ID          string
	ChainID     string
	BaseURL     string
	ExplorerURL string
}

const (
	NetworkMainnet   = "mainnet-alpha"
	NetworkGoerli    = "goerli-alpha"
	NetworkLocalhost = "localhost"
)

var networks = map[string]Network{
	NetworkMainnet: {
		ID:          NetworkMainnet,
		ChainID:     "SN_MAIN",
		BaseURL:     "https://alpha-mainnet.starknet.io",
		ExplorerURL: "https://voyager.online",
	},
	NetworkGoerli: {
		ID:          NetworkGoerli,
		ChainID:     "SN_GOERLI",
		BaseURL:     "https://alpha4.starknet.io",
		ExplorerURL: "https://goerli.voyager.online",
	},
	NetworkLocalhost: {
		ID:          NetworkLocalhost,
		ChainID:     "SN_GOERLI",
		BaseURL:     "http://localhost:5000",
		ExplorerURL: "https://goerli.voyager.online",
	},
}

// LookupNetwork 按 ID 查找网络，未知 ID 回落到 goerli。
func LookupNetwork(id string) Network {
	if n, ok := networks[strings.TrimSpace(id)]; ok {
		return n
	}
	return networks[NetworkGoerli]
}

// NetworkFromBaseURL 根据节点地址推断网络。
func NetworkFromBaseURL(baseURL string) Network {
	if strings.Contains(baseURL, "alpha-mainnet.starknet.io") {
		return networks[NetworkMainnet]
	}
	if strings.Contains(baseURL, "localhost") || strings.Contains(baseURL, "127.0.0.1") {
		return networks[NetworkLocalhost]
	}
	return networks[NetworkGoerli]
}

// IsMainnet 报告是否为主网。
func (n Network) IsMainnet() bool { return n.ID == NetworkMainnet }
