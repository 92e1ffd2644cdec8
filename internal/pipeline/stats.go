package pipeline

import (
	"sort"

	"firestige.xyz/argus/internal/bc"
)

// Stats are the counters of one pipeline run, used for the end of run
// summary. The decode goroutine increments them without locking; read them
// only after Run has returned.
type Stats struct {
	Packets     uint64
	TCPMessages uint64
	UDPMessages uint64
	Discoveries uint64
	Acks        uint64
	LayerErrors uint64

	byType map[uint32]uint64
}

func newStats() Stats {
	return Stats{byType: make(map[uint32]uint64)}
}

func (s *Stats) countType(t uint32) {
	s.byType[t]++
}

// Messages returns the framed message total across both transports.
func (s Stats) Messages() uint64 {
	return s.TCPMessages + s.UDPMessages
}

// TypeCount is one row of the per message type summary.
type TypeCount struct {
	Type  uint32
	Name  string
	Count uint64
}

// TypeCounts returns the per type tallies sorted by count, busiest first,
// with the type id as tiebreaker.
func (s Stats) TypeCounts() []TypeCount {
	rows := make([]TypeCount, 0, len(s.byType))
	for t, n := range s.byType {
		rows = append(rows, TypeCount{Type: t, Name: bc.MessageTypeName(t), Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Type < rows[j].Type
	})
	return rows
}
