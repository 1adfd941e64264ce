package backend

import (
	"math/rand/v2"
	"strings"
	"sync/atomic"
)

type BalancerType int

const (
	BalanceTypeRandom BalancerType = iota
	BalanceTypeRoundRobin
)

// Balancer picks one of n connections for a command that carries no key.
type Balancer interface {
	Next(n int) int
}

var (
	_ Balancer = (*RandomBalancer)(nil)
	_ Balancer = (*RoundRobinBalancer)(nil)
)

type RandomBalancer struct{}

func (RandomBalancer) Next(n int) int {
	return rand.IntN(n)
}

type RoundRobinBalancer struct {
	next atomic.Uint64
}

func (r *RoundRobinBalancer) Next(n int) int {
	return int((r.next.Add(1) - 1) % uint64(n))
}

func GetBalancerType(name string) BalancerType {
	switch strings.ToLower(name) {
	case "round-robin":
		return BalanceTypeRoundRobin
	default:
		return BalanceTypeRandom
	}
}

func NewBalancer(balancerType BalancerType) Balancer {
	if balancerType == BalanceTypeRoundRobin {
		return &RoundRobinBalancer{}
	}
	return RandomBalancer{}
}
