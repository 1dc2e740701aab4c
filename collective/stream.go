package collective

// A StreamAllreducer splits a vector into chunks and
// streams them around a ring of all the ranks at once.
//
// The reduction has two phases. During Reduce, every chunk
// travels from rank 0 through ranks 1, 2, ..., P-1 and back
// to rank 0, picking up each rank's contribution. During
// Broadcast, the reduced chunks travel from rank 0 down the
// ring to rank P-1. A rank forwards a chunk as soon as it
// has handled it, so many chunks are in flight at once.
type StreamAllreducer struct {
	// Granularity determines how many chunks the data is
	// split up into.
	// The actual number of chunks is multiplied by the
	// number of ranks.
	//
	// If Granularity is 0, it is treated as 1.
	Granularity int
}

// Allreduce streams data around the ring and returns the
// reduced vector.
func (s StreamAllreducer) Allreduce(c *Comm, data []float64, op Op) []float64 {
	size := c.Size()
	if size == 1 {
		return append([]float64{}, data...)
	}
	next := (c.Rank() + 1) % size
	prev := (c.Rank() + size - 1) % size
	bounds := s.chunkify(size, len(data))
	reduced := make([]float64, len(data))

	if c.IsMaster() {
		for i := range bounds {
			c.SendTo(next, streamChunk(i, data[bounds[i][0]:bounds[i][1]]))
		}
		for range bounds {
			i, chunk := parseStreamChunk(c.RecvFrom(prev))
			copy(reduced[bounds[i][0]:], chunk)
		}
		for i := range bounds {
			c.SendTo(next, streamChunk(i, reduced[bounds[i][0]:bounds[i][1]]))
		}
		return reduced
	}

	// Chunks may arrive in any order, so each one carries
	// its index.
	for range bounds {
		i, chunk := parseStreamChunk(c.RecvFrom(prev))
		b := bounds[i]
		c.SendTo(next, streamChunk(i, op.Reduce(c.Handle(), chunk, data[b[0]:b[1]])))
	}
	// Every reduce chunk from prev was sent before any
	// broadcast chunk, and rank 0 only starts broadcasting
	// once the reduction has gone all the way around.
	isLast := next == 0
	for range bounds {
		msg := c.RecvFrom(prev)
		i, chunk := parseStreamChunk(msg)
		copy(reduced[bounds[i][0]:], chunk)
		if !isLast {
			c.SendTo(next, msg)
		}
	}
	return reduced
}

// chunkify splits [0, n) into contiguous [start, end)
// ranges.
func (s StreamAllreducer) chunkify(size, n int) [][2]int {
	granularity := s.Granularity
	if granularity == 0 {
		granularity = 1
	}
	chunkSize := n / (size * granularity)
	if chunkSize < 1 {
		chunkSize = 1
	}
	var res [][2]int
	for i := 0; i < n; i += chunkSize {
		res = append(res, [2]int{i, min(i+chunkSize, n)})
	}
	return res
}

func streamChunk(index int, chunk []float64) []float64 {
	return append([]float64{float64(index)}, chunk...)
}

func parseStreamChunk(msg []float64) (int, []float64) {
	if len(msg) == 0 {
		panic("empty stream chunk")
	}
	return int(msg[0]), msg[1:]
}
