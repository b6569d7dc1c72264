package dist

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"testing"
	"time"
)

// freeAddr reserves a localhost port and releases it for the store.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// runWorld executes fn once per rank in parallel and fails the test on
// the first error.
func runWorld(t *testing.T, world int, fn func(rank int) error) {
	t.Helper()
	errs := make(chan error, world)
	var wg sync.WaitGroup
	for rank := 0; rank < world; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			if err := fn(rank); err != nil {
				errs <- fmt.Errorf("rank %d: %w", rank, err)
			}
		}(rank)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestRendezvousAndCollectives(t *testing.T) {
	addr := freeAddr(t)
	const world = 3

	runWorld(t, world, func(rank int) error {
		store, err := NewStore(addr, rank, world, 10*time.Second)
		if err != nil {
			return err
		}
		defer store.Close()
		comm := NewCommunicator(store)

		// Sum of ranks: 0+1+2.
		vec := []float64{float64(rank), 1}
		if err := comm.AllReduceSum(vec); err != nil {
			return err
		}
		if vec[0] != 3 || vec[1] != 3 {
			return fmt.Errorf("all-reduce got %v, want [3 3]", vec)
		}

		// Root's values win.
		b := []float64{float64(rank * 10)}
		if err := comm.Broadcast(b, 1); err != nil {
			return err
		}
		if b[0] != 10 {
			return fmt.Errorf("broadcast got %v, want [10]", b)
		}

		return comm.Barrier()
	})
}

func TestStoreSetGetBlocks(t *testing.T) {
	addr := freeAddr(t)
	const world = 2

	runWorld(t, world, func(rank int) error {
		store, err := NewStore(addr, rank, world, 10*time.Second)
		if err != nil {
			return err
		}
		defer store.Close()

		if rank == 0 {
			// Delay the write so the peer's Get provably blocks.
			time.Sleep(50 * time.Millisecond)
			return store.Set("greeting", []byte("hi"))
		}
		v, err := store.Get("greeting")
		if err != nil {
			return err
		}
		if string(v) != "hi" {
			return fmt.Errorf("got %q", v)
		}
		return nil
	})
}

func TestRendezvousTimesOut(t *testing.T) {
	addr := freeAddr(t)
	// World of 2 with only rank 1 present: no host ever listens.
	start := time.Now()
	_, err := NewStore(addr, 1, 2, 400*time.Millisecond)
	if err == nil {
		t.Fatal("expected rendezvous timeout")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout took far too long")
	}
}

func TestSyncConfig(t *testing.T) {
	addr := freeAddr(t)
	const world = 2

	runWorld(t, world, func(rank int) error {
		store, err := NewStore(addr, rank, world, 10*time.Second)
		if err != nil {
			return err
		}
		defer store.Close()

		// Every rank starts with rank-dependent values; identity fields
		// are simply not listed and keep their local values.
		lr := 0.001 * float64(rank+1)
		nEpoch := 10 + rank
		name := fmt.Sprintf("exp-%d", rank)
		uncased := rank == 0
		localRank := rank

		err = SyncConfig(store, []Field{
			{Name: "lr", Ptr: &lr},
			{Name: "n_epoch", Ptr: &nEpoch},
			{Name: "exp_name", Ptr: &name},
			{Name: "is_uncased", Ptr: &uncased},
		})
		if err != nil {
			return err
		}

		if lr != 0.001 || nEpoch != 10 || name != "exp-0" || uncased != true {
			return fmt.Errorf("config not synced to rank 0: lr=%g n_epoch=%d name=%s uncased=%v",
				lr, nEpoch, name, uncased)
		}
		if localRank != rank {
			return fmt.Errorf("identity field was overwritten")
		}
		return nil
	})
}

func TestIndicesPartition(t *testing.T) {
	const n, world, seed = 23, 4, 99

	for epoch := 0; epoch < 3; epoch++ {
		var all []int
		sizes := make([]int, world)
		for rank := 0; rank < world; rank++ {
			idx := Indices(n, rank, world, seed, epoch)
			sizes[rank] = len(idx)
			all = append(all, idx...)
		}

		// Disjoint subsets covering [0, n) exactly once.
		if len(all) != n {
			t.Fatalf("epoch %d: partition has %d indices, want %d", epoch, len(all), n)
		}
		sort.Ints(all)
		for i, v := range all {
			if v != i {
				t.Fatalf("epoch %d: partition is not a permutation of [0, %d)", epoch, n)
			}
		}

		// Sizes differ by at most one.
		minSz, maxSz := sizes[0], sizes[0]
		for _, s := range sizes {
			if s < minSz {
				minSz = s
			}
			if s > maxSz {
				maxSz = s
			}
		}
		if maxSz-minSz > 1 {
			t.Fatalf("epoch %d: subset sizes %v differ by more than one", epoch, sizes)
		}
	}

	// Deterministic per (seed, epoch), different across epochs.
	a := Indices(n, 0, world, seed, 1)
	b := Indices(n, 0, world, seed, 1)
	c := Indices(n, 0, world, seed, 2)
	if fmt.Sprint(a) != fmt.Sprint(b) {
		t.Error("same seed and epoch gave different orders")
	}
	if fmt.Sprint(a) == fmt.Sprint(c) {
		t.Error("different epochs gave identical orders")
	}
}

func TestRankSeed(t *testing.T) {
	if RankSeed(42, 0) != 42 || RankSeed(42, 3) != 45 {
		t.Error("rank seed must be base seed plus rank")
	}
}
