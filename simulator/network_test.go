package simulator

import "testing"

func TestOrderedNetworkFIFO(t *testing.T) {
	loop := NewEventLoop()
	network := NewOrderedNetwork(1.0, 2.0)

	src := NewNode().Port(loop)
	dst := NewNode().Port(loop)

	loop.Go(func(h *Handle) {
		for i := 0; i < 3; i++ {
			network.Send(h, &Message{Source: src, Dest: dst, Message: i, Size: 4})
		}
	})
	loop.Go(func(h *Handle) {
		for i := 0; i < 3; i++ {
			msg := dst.Recv(h)
			if msg.Message != i {
				t.Errorf("message %d arrived as %v", i, msg.Message)
			}
			expected := float64(i+1) * (1.0 + 4.0/2.0)
			if h.Time() != expected {
				t.Errorf("message %d: expected time %f but got %f", i, expected, h.Time())
			}
		}
	})

	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
}

func TestRandomNetworkDelivers(t *testing.T) {
	loop := NewEventLoopSeed(1)
	network := RandomNetwork{MaxLatency: 0.5}

	ports := []*Port{NewNode().Port(loop), NewNode().Port(loop)}
	loop.Go(func(h *Handle) {
		for i := 0; i < 10; i++ {
			network.Send(h, &Message{Source: ports[0], Dest: ports[1], Message: i})
		}
	})
	seen := map[int]bool{}
	loop.Go(func(h *Handle) {
		for i := 0; i < 10; i++ {
			seen[ports[1].Recv(h).Message.(int)] = true
		}
	})
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 10 {
		t.Errorf("expected 10 distinct messages but got %d", len(seen))
	}
	if loop.Time() >= 0.5 {
		t.Errorf("delivery took %f, longer than the max latency", loop.Time())
	}
}

func TestSwitchedNetworkSingleMessage(t *testing.T) {
	loop := NewEventLoop()

	nodes := []*Node{NewNode(), NewNode()}
	ports := []*Port{nodes[0].Port(loop), nodes[1].Port(loop)}
	network := NewSwitcherNetwork(NewGreedyDropSwitcher(2, 2.0), nodes, 3.0)

	loop.Go(func(h *Handle) {
		network.Send(h, &Message{
			Source:  ports[0],
			Dest:    ports[1],
			Message: "hi rank 1",
			Size:    124.0,
		})
		if val := ports[0].Recv(h).Message; val != "hi rank 0" {
			t.Errorf("unexpected message: %s", val)
		}
	})
	loop.Go(func(h *Handle) {
		network.Send(h, &Message{
			Source:  ports[1],
			Dest:    ports[0],
			Message: "hi rank 0",
			Size:    124.0,
		})
		if val := ports[1].Recv(h).Message; val != "hi rank 1" {
			t.Errorf("unexpected message: %s", val)
		}
	})

	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}

	expectedTime := 124.0/2.0 + 3.0
	if loop.Time() != expectedTime {
		t.Errorf("time should be %f but got %f", expectedTime, loop.Time())
	}
}

func TestSwitchedNetworkOversubscribed(t *testing.T) {
	loop := NewEventLoop()

	dataRate := 4.0
	nodes := []*Node{NewNode(), NewNode()}
	ports := []*Port{nodes[0].Port(loop), nodes[1].Port(loop)}
	network := NewSwitcherNetwork(NewGreedyDropSwitcher(2, dataRate), nodes, 2.0)

	loop.Go(func(h *Handle) {
		network.Send(h, &Message{
			Source:  ports[0],
			Dest:    ports[1],
			Message: "hi rank 1 (message 1)",
			Size:    123.0,
		})
		network.Send(h, &Message{
			Source:  ports[0],
			Dest:    ports[1],
			Message: "hi rank 1 (message 2)",
			Size:    124.0,
		})
		if val := ports[0].Recv(h).Message; val != "hi rank 0" {
			t.Errorf("unexpected message: %s", val)
		}
		expectedTime := 1.0 + 2.0 + 124.0/dataRate
		if h.Time() != expectedTime {
			t.Errorf("expected time %f but got %f", expectedTime, h.Time())
		}
	})

	loop.Go(func(h *Handle) {
		// The other messages are in flight by now, so this
		// one forces a new plan.
		h.Sleep(1)

		network.Send(h, &Message{
			Source:  ports[1],
			Dest:    ports[0],
			Message: "hi rank 0",
			Size:    124.0,
		})
		if val := ports[1].Recv(h).Message; val != "hi rank 1 (message 1)" {
			t.Errorf("unexpected message: %s", val)
		}
		expectedTime := 2.0 + 2.0*123.0/dataRate
		if h.Time() != expectedTime {
			t.Errorf("expected time %f but got %f", expectedTime, h.Time())
		}
		if val := ports[1].Recv(h).Message; val != "hi rank 1 (message 2)" {
			t.Errorf("unexpected message: %s", val)
		}
		expectedTime += 1.0 / dataRate
		if h.Time() != expectedTime {
			t.Errorf("expected time %f but got %f", expectedTime, h.Time())
		}
	})

	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}

	expectedTime := 2.0 + 2.0*123.0/dataRate + 1.0/dataRate
	if loop.Time() != expectedTime {
		t.Errorf("time should be %f but got %f", expectedTime, loop.Time())
	}

	// No stray deliveries are left behind.
	for _, port := range ports {
		port := port
		loop.Go(func(h *Handle) {
			h.Poll(port.Incoming)
		})
		if loop.Run() == nil {
			t.Error("expected deadlock error")
		}
	}
}
