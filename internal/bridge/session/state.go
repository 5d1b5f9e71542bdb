// Package session 保存页面侧观察到的连接状态。
package session

import "sync"

// SignerIdentity 由地址与网络共同派生，二者变化时一并重建。
type SignerIdentity struct {
	Address string
	Network Network
}

// Snapshot 是某一时刻的连接状态副本。
type Snapshot struct {
	SelectedAddress string
	Network         Network
	Connected       bool
	Signer          *SignerIdentity
}

// State 是由 Provider 持有、按引用传给协议引擎的连接状态。
type State struct {
	mu        sync.RWMutex
	address   string
	network   Network
	connected bool
	signer    *SignerIdentity
}

// NewState 返回未连接的状态。
func NewState() *State {
	return &State{network: LookupNetwork("")}
}

// Snapshot 读取当前状态。
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		SelectedAddress: s.address,
		Network:         s.network,
		Connected:       s.connected,
	}
	if s.signer != nil {
		signer := *s.signer
		snap.Signer = &signer
	}
	return snap
}

// Connected 报告是否已完成连接。
func (s *State) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Adopt 在连接流程完成后写入地址与网络，并标记为已连接。
func (s *State) Adopt(address, network string) Snapshot {
	s.mu.Lock()
	s.setLocked(address, network)
	s.connected = true
	s.mu.Unlock()
	return s.Snapshot()
}

// AdoptIfChanged 仅在已连接且地址变化时更新状态，返回是否发生了更新。
func (s *State) AdoptIfChanged(address, network string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signer == nil || address == s.address {
		return false
	}
	s.setLocked(address, network)
	return true
}

// Reset 清空连接状态。
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = ""
	s.network = LookupNetwork("")
	s.connected = false
	s.signer = nil
}

func (s *State) setLocked(address, network string) {
	s.address = address
	s.network = LookupNetwork(network)
	s.signer = &SignerIdentity{Address: address, Network: s.network}
}
