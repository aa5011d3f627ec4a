package vm

import "github.com/holiman/uint256"

// Stack is the EVM's 256-bit-word operand stack.
type Stack struct {
	data []*uint256.Int
}

func newStack() *Stack { return &Stack{data: make([]*uint256.Int, 0, 16)} }

func (s *Stack) push(v *uint256.Int) { s.data = append(s.data, v) }

func (s *Stack) pop() *uint256.Int {
	n := len(s.data) - 1
	v := s.data[n]
	s.data = s.data[:n]
	return v
}

func (s *Stack) peek(depth int) *uint256.Int {
	return s.data[len(s.data)-1-depth]
}

func (s *Stack) swap(depth int) {
	n := len(s.data) - 1
	s.data[n], s.data[n-depth] = s.data[n-depth], s.data[n]
}

func (s *Stack) len() int { return len(s.data) }

// Memory is the EVM's byte-addressable, linearly-growing scratch space.
type Memory struct {
	store []byte
}

func newMemory() *Memory { return &Memory{} }

func (m *Memory) len() int { return len(m.store) }

func (m *Memory) resize(size uint64) {
	if uint64(len(m.store)) < size {
		grown := make([]byte, size)
		copy(grown, m.store)
		m.store = grown
	}
}

func (m *Memory) Set(offset, size uint64, value []byte) {
	if size == 0 {
		return
	}
	m.resize(offset + size)
	copy(m.store[offset:offset+size], value)
}

func (m *Memory) Get(offset, size uint64) []byte {
	if size == 0 {
		return nil
	}
	m.resize(offset + size)
	out := make([]byte, size)
	copy(out, m.store[offset:offset+size])
	return out
}
